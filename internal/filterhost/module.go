package filterhost

import "github.com/simoneerrigo/proxad/internal/flow"

// Each hook receives the persistent state container for its module as the
// first argument, generalizing original_source/test/filter.py's
// `persist` sys.modules trick (a module-global dict that survives a
// script reload) into an explicit, host-owned argument — see DESIGN.md.

// ClientRawHook inspects/rewrites a chunk read from the client before it
// reaches the upstream server.
type ClientRawHook func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput

// ServerRawHook inspects/rewrites a chunk read from the upstream server
// before it reaches the client.
type ServerRawHook func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput

// RawOpenHook runs once when a raw flow is established, before any data
// is pumped, giving a filter the chance to kill a connection outright
// (e.g. by source IP) or seed per-flow state.
type RawOpenHook func(state *flow.Attrs, f *flow.Flow) RawOutput

// RawCloseHook runs exactly once when a raw flow reaches a terminal
// state, regardless of whether that state was reached normally, via
// Kill, or via an error.
type RawCloseHook func(state *flow.Attrs, f *flow.Flow, cause flow.CloseCause)

// HTTPFilterHook inspects/rewrites one request/response pair.
type HTTPFilterHook func(state *flow.Attrs, f *flow.HTTPFlow, req *flow.HTTPReq, resp *flow.HTTPResp) HTTPOutput

// HTTPOpenHook runs once per HTTP flow (i.e. per accepted connection, not
// per request) before the first request/response pair is processed.
type HTTPOpenHook func(state *flow.Attrs, f *flow.HTTPFlow) HTTPOutput

// HTTPCloseHook runs exactly once when an HTTP flow's underlying
// connection is closed.
type HTTPCloseHook func(state *flow.Attrs, f *flow.HTTPFlow, cause flow.CloseCause)

// Module is one loaded filter plugin: its resolved hook symbols plus the
// bookkeeping needed to detect changes on disk. Any hook a module does
// not export is left nil and simply skipped by the Host at dispatch time
// — a module is free to implement only the hooks it cares about.
type Module struct {
	Name string // base filename, used as the persistent-state key and in audit/log entries
	Path string
	Hash string // sha256 of the compiled .so, used to detect real content changes

	ClientRaw ClientRawHook
	ServerRaw ServerRawHook
	RawOpen   RawOpenHook
	RawClose  RawCloseHook

	HTTPFilter HTTPFilterHook
	HTTPOpen   HTTPOpenHook
	HTTPClose  HTTPCloseHook

	// SkipOnError and PrintOnError mirror original_source/test/filter.py's
	// module-level `skip_on_error`/`print_on_error` flags: when a hook
	// panics or a lookup assertion fails, SkipOnError (default true) means
	// the chunk/message passes through unchanged rather than killing the
	// flow, and PrintOnError (default true) means the failure is logged.
	SkipOnError  bool
	PrintOnError bool
}
