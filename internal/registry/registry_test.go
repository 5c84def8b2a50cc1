package registry

import (
	"testing"
	"time"
)

func TestRegistry_Open(t *testing.T) {
	r := NewRegistry()
	r.Open("flow-1", "front", "1.2.3.4:1000", "5.6.7.8:80")

	f, err := r.Get("flow-1")
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != "open" {
		t.Errorf("Status: expected open, got %q", f.Status)
	}
	if f.Listener != "front" {
		t.Errorf("Listener: expected front, got %q", f.Listener)
	}
	if f.ClientAddr != "1.2.3.4:1000" {
		t.Errorf("ClientAddr: expected 1.2.3.4:1000, got %q", f.ClientAddr)
	}
}

func TestRegistry_Get_NotFound(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nonexistent"); err == nil {
		t.Error("expected error for nonexistent flow")
	}
}

func TestRegistry_RecordBytes(t *testing.T) {
	r := NewRegistry()
	r.Open("flow-1", "front", "c", "s")

	r.RecordBytes("flow-1", true, 100)
	r.RecordBytes("flow-1", true, 50)
	r.RecordBytes("flow-1", false, 30)

	f, _ := r.Get("flow-1")
	if f.BytesClientToServer != 150 {
		t.Errorf("BytesClientToServer: expected 150, got %d", f.BytesClientToServer)
	}
	if f.BytesServerToClient != 30 {
		t.Errorf("BytesServerToClient: expected 30, got %d", f.BytesServerToClient)
	}
}

func TestRegistry_RecordBytes_UnknownFlow(t *testing.T) {
	r := NewRegistry()
	// Should not panic on an unknown flow.
	r.RecordBytes("unknown", true, 10)
}

func TestRegistry_RecordDecision(t *testing.T) {
	r := NewRegistry()
	r.Open("flow-1", "front", "c", "s")
	r.RecordDecision("flow-1", "evil-filter", "kill")

	f, _ := r.Get("flow-1")
	if f.LastFilter != "evil-filter" {
		t.Errorf("LastFilter: expected evil-filter, got %q", f.LastFilter)
	}
	if f.LastDecision != "kill" {
		t.Errorf("LastDecision: expected kill, got %q", f.LastDecision)
	}
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry()
	r.Open("flow-1", "front", "c", "s")
	r.Close("flow-1", "killed")

	f, _ := r.Get("flow-1")
	if f.Status != "killed" {
		t.Errorf("Status: expected killed, got %q", f.Status)
	}
	if f.ClosedAt.IsZero() {
		t.Error("ClosedAt should be set after Close()")
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	r.Open("flow-1", "front", "c", "s")
	r.Open("flow-2", "front", "c", "s")

	flows := r.List()
	if len(flows) != 2 {
		t.Errorf("expected 2 flows, got %d", len(flows))
	}
}

func TestRegistry_List_MostRecentFirst(t *testing.T) {
	r := NewRegistry()
	r.flows["older"] = &FlowRecord{ID: "older", OpenedAt: time.Now().UTC().Add(-time.Hour), Status: "open"}
	r.flows["newer"] = &FlowRecord{ID: "newer", OpenedAt: time.Now().UTC(), Status: "open"}

	flows := r.List()
	if len(flows) != 2 || flows[0].ID != "newer" {
		t.Errorf("expected newer flow first, got %+v", flows)
	}
}

func TestRegistry_Prune(t *testing.T) {
	r := NewRegistry()
	r.Open("open-flow", "front", "c", "s")
	r.Open("closed-flow", "front", "c", "s")
	r.Close("closed-flow", "closed")
	r.flows["closed-flow"].ClosedAt = time.Now().UTC().Add(-2 * time.Hour)

	n := r.Prune(time.Now().UTC().Add(-time.Hour))
	if n != 1 {
		t.Errorf("expected 1 pruned record, got %d", n)
	}
	if _, err := r.Get("open-flow"); err != nil {
		t.Error("open flow should never be pruned")
	}
	if _, err := r.Get("closed-flow"); err == nil {
		t.Error("closed-flow should have been pruned")
	}
}
