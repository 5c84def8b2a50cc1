package flow

import "sync"

// Attrs is a thread-safe, open-schema string-to-Value map. It backs both
// Flow.user_attrs (read/written by filters from either direction) and the
// filter host's persistent state containers (read/written by concurrent
// filter invocations across flows — see internal/filterhost).
//
// The host does not serialize accesses beyond this map's own locking:
// filter authors composing compound read-modify-write sequences across
// multiple keys are still responsible for their own higher-level
// synchronization, exactly as spec.md §5 documents for the original
// Python source's unsynchronized counters.
type Attrs struct {
	mu   sync.RWMutex
	data map[string]Value
}

func NewAttrs() *Attrs {
	return &Attrs{data: make(map[string]Value)}
}

func (a *Attrs) Get(key string) (Value, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.data[key]
	return v, ok
}

func (a *Attrs) Set(key string, v Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[key] = v
}

func (a *Attrs) Delete(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.data, key)
}

func (a *Attrs) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.data))
	for k := range a.data {
		keys = append(keys, k)
	}
	return keys
}

// AtomicInt64 is the idiomatic safe primitive for filter authors who need
// a counter shared by concurrent flows without hand-rolling a mutex —
// spec.md §9's "offering atomic integer slots" recommendation.
type AtomicInt64 struct {
	mu sync.Mutex
	v  int64
}

func (c *AtomicInt64) Add(delta int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v += delta
	return c.v
}

func (c *AtomicInt64) Load() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}
