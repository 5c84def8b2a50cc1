// Package registry tracks live and historical flow identities for the
// dashboard and CLI: open time, bytes transferred each direction, and the
// last filter decision recorded against a flow. It also holds the
// operator-triggered manual kill switch (flow ID -> kill record), in
// memory only — flow identity does not survive a proxad restart the way
// an agent's identity does across ctrlai restarts.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// FlowRecord is a snapshot of a tracked flow's lifecycle and traffic
// counters. FlowRecords are created when a flow opens and updated as
// traffic crosses it and as filters render decisions.
type FlowRecord struct {
	ID         string    `json:"id"`
	Listener   string    `json:"listener"`
	ClientAddr string    `json:"client_addr"`
	ServerAddr string    `json:"server_addr"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
	Status     string    `json:"status"` // "open", "closed", "killed"

	BytesClientToServer uint64 `json:"bytes_c2s"`
	BytesServerToClient uint64 `json:"bytes_s2c"`

	LastFilter   string `json:"last_filter,omitempty"`
	LastDecision string `json:"last_decision,omitempty"`
}

// Registry is the set of known flows and their stats.
//
// Thread-safe — every method may be called from concurrent goroutines.
// In the running proxy only the dashboard uses it (List, and
// RecordDecision on a kill request); the engines do not call Open or
// RecordBytes, so no flows are registered.
type Registry struct {
	mu    sync.RWMutex
	flows map[string]*FlowRecord
}

// NewRegistry returns an empty, in-memory flow registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]*FlowRecord)}
}

// Open registers a newly opened flow.
func (r *Registry) Open(id, listener, clientAddr, serverAddr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flows[id] = &FlowRecord{
		ID:         id,
		Listener:   listener,
		ClientAddr: clientAddr,
		ServerAddr: serverAddr,
		OpenedAt:   time.Now().UTC(),
		Status:     "open",
	}
	slog.Info("flow opened", "flow", id, "listener", listener, "client", clientAddr, "server", serverAddr)
}

// RecordBytes adds to a flow's transfer counters. toServer selects the
// direction: true for client->server, false for server->client.
//
// Cheap — a write lock over a map lookup and two integer adds.
func (r *Registry) RecordBytes(id string, toServer bool, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flows[id]
	if !ok {
		return
	}
	if toServer {
		f.BytesClientToServer += uint64(n)
	} else {
		f.BytesServerToClient += uint64(n)
	}
}

// RecordDecision records the most recent filter decision rendered against
// a flow, for display in the dashboard.
func (r *Registry) RecordDecision(id, filterName, decision string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.flows[id]; ok {
		f.LastFilter = filterName
		f.LastDecision = decision
	}
}

// Close marks a flow as closed or killed and stamps its close time.
// cause should be "closed" or "killed"; any other value is stored as-is.
func (r *Registry) Close(id, cause string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.flows[id]; ok {
		f.Status = cause
		f.ClosedAt = time.Now().UTC()
	}
}

// Get returns the record for the given flow ID, or an error if unknown.
func (r *Registry) Get(id string) (FlowRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.flows[id]
	if !ok {
		return FlowRecord{}, fmt.Errorf("flow %q not found", id)
	}
	return *f, nil
}

// List returns all tracked flows, most recently opened first.
func (r *Registry) List() []FlowRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FlowRecord, 0, len(r.flows))
	for _, f := range r.flows {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.After(out[j].OpenedAt)
	})
	return out
}

// Prune removes closed/killed flow records older than before, bounding
// memory use on a long-running proxy. Open flows are never pruned.
func (r *Registry) Prune(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, f := range r.flows {
		if f.Status == "open" {
			continue
		}
		if f.ClosedAt.Before(before) {
			delete(r.flows, id)
			n++
		}
	}
	return n
}
