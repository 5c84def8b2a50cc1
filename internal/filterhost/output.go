// Package filterhost loads hot-reloadable filter modules, dispatches the
// raw and HTTP filter hooks to them, and owns the named persistent state
// containers that survive a module reload.
//
// Filter modules are ordinary Go packages compiled with
// `go build -buildmode=plugin` and loaded with the standard library's
// `plugin` package. No third-party Go scripting or plugin host appears
// anywhere in the example corpus (see DESIGN.md), so this is a deliberate
// standard-library exception to the "prefer a corpus library" rule —
// everything else in this package (the reload watcher, the RWMutex-guarded
// atomic swap) is grounded on internal/config/watcher.go and
// internal/engine/engine.go's Reload pattern.
package filterhost

import "github.com/simoneerrigo/proxad/internal/flow"

// Verdict is the three-variant outcome every filter hook returns, per
// spec.md §4.1: let the data pass unchanged, replace it with new data, or
// kill the flow outright.
type Verdict int

const (
	// Passthrough leaves the chunk/message unchanged.
	Passthrough Verdict = iota
	// Replace substitutes the chunk/message with a new value.
	Replace
	// Kill tears down the flow immediately; no further filter hooks run on
	// its data, and only the close hook (RawClose/HTTPClose) is still called.
	Kill
)

func (v Verdict) String() string {
	switch v {
	case Passthrough:
		return "PASSTHROUGH"
	case Replace:
		return "REPLACE"
	case Kill:
		return "KILL"
	default:
		return "UNKNOWN"
	}
}

// RawOutput is what a raw-hook (ClientRawFilter/ServerRawFilter) returns.
type RawOutput struct {
	Verdict Verdict
	Data    []byte // meaningful only when Verdict == Replace
}

// PassthroughRaw is the zero-cost "do nothing" result raw hooks should
// return when they have no opinion about a chunk.
func PassthroughRaw() RawOutput { return RawOutput{Verdict: Passthrough} }

// ReplaceRaw substitutes data for the chunk that was passed in.
func ReplaceRaw(data []byte) RawOutput { return RawOutput{Verdict: Replace, Data: data} }

// KillRaw tears down the flow.
func KillRaw() RawOutput { return RawOutput{Verdict: Kill} }

// HTTPOutput is what the HTTPFilter hook returns for one request/response
// pair. A single filter module populates exactly one of Request/Response
// when Verdict == Replace, matching which side it chose to rewrite; a
// Host folding several modules' hooks over the same pair (see dispatch.go)
// may return both fields set, each holding the last replacement any
// module in the chain made to that side.
type HTTPOutput struct {
	Verdict  Verdict
	Request  *flow.HTTPReq
	Response *flow.HTTPResp
}

func PassthroughHTTP() HTTPOutput { return HTTPOutput{Verdict: Passthrough} }

func ReplaceHTTPRequest(req *flow.HTTPReq) HTTPOutput {
	return HTTPOutput{Verdict: Replace, Request: req}
}

func ReplaceHTTPResponse(resp *flow.HTTPResp) HTTPOutput {
	return HTTPOutput{Verdict: Replace, Response: resp}
}

func KillHTTP() HTTPOutput { return HTTPOutput{Verdict: Kill} }
