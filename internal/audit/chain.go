// Package audit implements the tamper-proof, hash-chained audit log.
//
// Every flow lifecycle event (open, close, kill, error) and filter
// decision (reload) is recorded as an Entry in an append-only JSONL
// file. Each entry's hash is computed as
// SHA-256(prev_hash | seq | timestamp | flow_id | kind | detail),
// forming a hash chain where tampering with any entry breaks the chain
// from that point forward.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// computeHash calculates the SHA-256 hash for an audit entry.
// The hash depends on the previous entry's hash, creating a chain
// where modifying any entry invalidates all subsequent entries.
//
// Hash formula:
//
//	SHA-256(prev_hash | seq | timestamp | flow_id | kind | detail)
//
// Returns a prefixed hash string: "sha256:<hex>".
func computeHash(e *Entry) string {
	detailJSON, _ := json.Marshal(e.Detail)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s",
		e.PrevHash, e.Seq, e.Timestamp,
		e.FlowID, e.Kind, detailJSON)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// verifyEntry checks whether an entry's hash is valid given its contents.
// Returns true if the stored hash matches the computed hash.
func verifyEntry(e *Entry) bool {
	expected := computeHash(e)
	return e.Hash == expected
}
