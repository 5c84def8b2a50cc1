package registry

import (
	"log/slog"
	"sync"
	"time"
)

// KilledEntry records a single operator-triggered flow kill: who killed
// it, when, and why. Unlike spec.md's filter-driven Kill (an inline
// decision a filter hook returns), this is an out-of-band kill issued by
// an operator via the dashboard's POST /api/kill.
type KilledEntry struct {
	FlowID   string    `json:"flow_id"`
	KilledAt time.Time `json:"killed_at"`
	Reason   string    `json:"reason"`
	KilledBy string    `json:"killed_by"`
}

// KillSwitch holds the set of manually killed flow IDs. No engine
// consults it: recording a kill here does not stop or close the flow.
//
// Thread-safe — Kill is called from the dashboard's HTTP handlers, and
// every method may be called concurrently.
//
// In-memory only: manual kills target flows currently in flight, and a
// flow ID has no meaning across a restart, so there is nothing to
// persist.
type KillSwitch struct {
	mu     sync.RWMutex
	killed map[string]KilledEntry
}

// NewKillSwitch returns an empty kill switch (no flows killed).
func NewKillSwitch() *KillSwitch {
	return &KillSwitch{killed: make(map[string]KilledEntry)}
}

// IsKilled reports whether the given flow ID has been manually killed.
// An O(1) map lookup under a read lock.
func (ks *KillSwitch) IsKilled(flowID string) bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	_, killed := ks.killed[flowID]
	return killed
}

// Kill marks a flow ID as manually killed. If the flow is already killed,
// this is a no-op (not an error) — matches the first kill reason/actor.
func (ks *KillSwitch) Kill(flowID, reason, by string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, exists := ks.killed[flowID]; exists {
		return
	}

	ks.killed[flowID] = KilledEntry{
		FlowID:   flowID,
		KilledAt: time.Now().UTC(),
		Reason:   reason,
		KilledBy: by,
	}
	slog.Warn("flow killed", "flow", flowID, "reason", reason, "by", by)
}

// Entry returns the kill record for a flow ID, if killed.
func (ks *KillSwitch) Entry(flowID string) (KilledEntry, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	e, ok := ks.killed[flowID]
	return e, ok
}

// Forget removes a flow ID from the killed set. Nothing in the proxy
// calls it, so killed IDs stay in the set for the life of the process.
func (ks *KillSwitch) Forget(flowID string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.killed, flowID)
}

// Len returns the number of currently killed flow IDs tracked.
func (ks *KillSwitch) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.killed)
}
