package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_CreatesGenesisAndIsEmpty(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	entries, err := a.Tail(10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries besides genesis in Tail, got %d", len(entries))
	}
}

func TestAppend_ChainsAndIndexes(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	a.LogFlowOpen("flow-1", map[string]any{"client": "1.2.3.4:1000"})
	a.LogKill("flow-1", "evil-filter", "evilbanana detected")
	a.LogFlowClose("flow-1", "killed")

	entries, err := a.Tail(10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	result, err := a.VerifyChain()
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid chain, got broken at %d", result.BrokenAt)
	}
}

func TestQuery_FiltersByFlowIDAndKind(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	a.LogFlowOpen("flow-1", nil)
	a.LogFlowOpen("flow-2", nil)
	a.LogKill("flow-2", "f", "bad")

	results, err := a.Query(QueryParams{FlowID: "flow-2"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 entries for flow-2, got %d", len(results))
	}

	results, err = a.Query(QueryParams{Kind: "kill"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].FlowID != "flow-2" {
		t.Fatalf("expected single kill entry for flow-2, got %+v", results)
	}
}

func TestVerifyChain_DetectsTamperedFile(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.LogFlowOpen("flow-1", nil)
	a.LogFlowClose("flow-1", "closed")
	a.Close()

	entries, err := readAllEntriesFromDir(dir)
	if err != nil {
		t.Fatalf("reading entries back: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one JSONL entry on disk")
	}

	// Re-open via a fresh AuditLog instance, check the untampered chain
	// verifies, then corrupt an entry's detail in the JSONL file directly
	// and re-verify.
	b2, err := New(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b2.Close()

	result, err := b2.VerifyChain()
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !result.Valid {
		t.Fatalf("untampered chain should verify, got broken at %d", result.BrokenAt)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil || len(files) == 0 {
		t.Fatalf("expected a JSONL file on disk, got %v (err %v)", files, err)
	}
	data, err := os.ReadFile(files[len(files)-1])
	if err != nil {
		t.Fatalf("reading audit file: %v", err)
	}
	tampered := strings.Replace(string(data), `"closed"`, `"killed"`, 1)
	if tampered == string(data) {
		t.Fatal("expected the close entry's cause in the audit file")
	}
	if err := os.WriteFile(files[len(files)-1], []byte(tampered), 0o644); err != nil {
		t.Fatalf("writing tampered audit file: %v", err)
	}

	result, err = b2.VerifyChain()
	if err != nil {
		t.Fatalf("VerifyChain after tamper: %v", err)
	}
	if result.Valid {
		t.Fatal("tampered chain should not verify")
	}
}

func TestExport_JSONL(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	a.LogFlowOpen("flow-1", nil)

	var buf bytes.Buffer
	if err := a.Export(&buf, "jsonl"); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.Contains(buf.String(), `"flow-1"`) {
		t.Fatalf("expected exported jsonl to contain flow-1, got %q", buf.String())
	}
}

// readAllEntriesFromDir is a small test helper exercising the package's
// own file-reading path on a fresh AuditLog-less directory scan.
func readAllEntriesFromDir(dir string) ([]Entry, error) {
	a := &AuditLog{dir: dir}
	return a.readAllEntries(0)
}
