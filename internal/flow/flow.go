package flow

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

// State is a Flow's lifecycle state. Transitions are monotonic toward
// CLOSED or KILLED — see spec.md §3.
type State int

const (
	StateOpening State = iota
	StateOpen
	StateHalfClosedClient
	StateHalfClosedServer
	StateClosed
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateHalfClosedClient:
		return "HALF_CLOSED_CLIENT"
	case StateHalfClosedServer:
		return "HALF_CLOSED_SERVER"
	case StateClosed:
		return "CLOSED"
	case StateKilled:
		return "KILLED"
	default:
		return "UNKNOWN"
	}
}

// CloseCause records why a flow reached CLOSED or KILLED, for audit and
// for the raw_close/http_close hooks.
type CloseCause int

const (
	CauseClosed CloseCause = iota
	CauseKilled
	CauseErrored
)

func (c CloseCause) String() string {
	switch c {
	case CauseClosed:
		return "CLOSED"
	case CauseKilled:
		return "KILLED"
	case CauseErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// Endpoint is an address record for one side of a Flow.
type Endpoint struct {
	Network string // "tcp", "tcp4", "tcp6"
	Addr    net.Addr
}

func (e Endpoint) String() string {
	if e.Addr == nil {
		return ""
	}
	return e.Addr.String()
}

// History is a growable, append-only byte buffer. Append and Bytes both
// take its lock, so a filter can read a copy while the writer direction is
// still appending.
type History struct {
	mu   sync.RWMutex
	data []byte
}

func (h *History) Append(chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = append(h.data, chunk...)
}

func (h *History) Bytes() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]byte, len(h.data))
	copy(out, h.data)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.data)
}

// Flow is the unit of interception for one client-to-upstream connection.
// See spec.md §3 for the invariants: id is immutable once assigned,
// histories are append-only while OPEN, no filter invocations occur once
// CLOSED or KILLED, and state transitions are monotonic toward
// CLOSED/KILLED.
type Flow struct {
	id uuid.UUID

	ClientHistory History
	ServerHistory History
	UserAttrs     *Attrs

	ClientEndpoint Endpoint
	ServerEndpoint Endpoint

	mu         sync.Mutex
	state      State
	closeCause CloseCause
}

// New constructs a Flow with a fresh random (UUIDv4) id in OPENING state.
func New(client, server Endpoint) *Flow {
	return &Flow{
		id:             uuid.New(),
		UserAttrs:      NewAttrs(),
		ClientEndpoint: client,
		ServerEndpoint: server,
		state:          StateOpening,
	}
}

func (f *Flow) ID() uuid.UUID { return f.id }

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetState applies a state transition. Callers are expected to only move
// monotonically toward CLOSED/KILLED; this is enforced by the engines, not
// by SetState itself, since OPEN <-> HALF_CLOSED_* transitions are
// direction-specific and engine-owned.
func (f *Flow) SetState(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

// Terminal reports whether the flow is CLOSED or KILLED — no further
// filter invocations should occur once true.
func (f *Flow) Terminal() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == StateClosed || f.state == StateKilled
}

func (f *Flow) CloseCause() CloseCause {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCause
}

func (f *Flow) SetCloseCause(c CloseCause) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCause = c
}

// HTTPFlow extends Flow with HTTP-specific bookkeeping: a monotonic
// request ordinal assigned as each request is fully parsed, per spec.md §3.
type HTTPFlow struct {
	*Flow

	mu           sync.Mutex
	requestCount uint64
}

func NewHTTPFlow(client, server Endpoint) *HTTPFlow {
	return &HTTPFlow{Flow: New(client, server)}
}

// NextRequestOrdinal assigns and returns the ordinal for a newly fully
// parsed request.
func (hf *HTTPFlow) NextRequestOrdinal() uint64 {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	hf.requestCount++
	return hf.requestCount
}

func (hf *HTTPFlow) RequestCount() uint64 {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	return hf.requestCount
}

// SessionID is a convenience accessor over UserAttrs["session_id"], the
// slot filters conventionally use (spec.md §3, grounded on
// original_source/test/filter_http.py's flow.session_id usage).
func (hf *HTTPFlow) SessionID() string {
	v, ok := hf.UserAttrs.Get("session_id")
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

func (hf *HTTPFlow) SetSessionID(id string) {
	hf.UserAttrs.Set("session_id", String(id))
}
