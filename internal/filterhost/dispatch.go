package filterhost

import (
	"log/slog"

	"github.com/simoneerrigo/proxad/internal/flow"
)

// guard runs fn, recovering from a panic. On recovery a structured trace
// is logged when m.PrintOnError is set, and panicked is reported to the
// caller so it can apply spec.md §4.1's failure-isolation policy: a
// filter error never kills the flow. skip_on_error (default true) treats
// the errored filter as Passthrough and the chain continues to the next
// module; skip_on_error=false stops the chain early but still forwards
// whatever value the chain had accumulated so far.
func (h *Host) guard(m *Module, hookName string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			if m.PrintOnError {
				slog.Error("filter hook panicked", "module", m.Name, "hook", hookName, "panic", r)
			}
		}
	}()
	fn()
	return false
}

// rawHookFn is the common shape of ClientRawHook and ServerRawHook, used
// to share the chain-folding logic between them.
type rawHookFn func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput

// foldRaw runs chunk through every active module's hook (as selected by
// pick) in declared order, per spec.md §4.1's Chain runner: the output of
// filter n is the input to filter n+1, a Kill short-circuits the whole
// chain (and the flow), and a Passthrough leaves the running value
// unchanged.
func (h *Host) foldRaw(hookName string, f *flow.Flow, chunk []byte, pick func(m *Module) rawHookFn) RawOutput {
	value := chunk
	changed := false

	for _, m := range h.active() {
		hook := pick(m)
		if hook == nil {
			continue
		}

		var out RawOutput
		panicked := h.guard(m, hookName, func() { out = hook(h.state(m.Name), f, value) })
		if panicked {
			if !m.SkipOnError {
				break // chain breaks early; value as accumulated so far is forwarded
			}
			continue // degrades to Passthrough for this module, chain continues
		}

		switch out.Verdict {
		case Kill:
			return KillRaw()
		case Replace:
			value = out.Data
			changed = true
		}
	}

	if changed {
		return ReplaceRaw(value)
	}
	return PassthroughRaw()
}

// ClientRaw folds a chunk read from the client through every active
// module's ClientRawFilter hook, in declared order.
func (h *Host) ClientRaw(f *flow.Flow, chunk []byte) RawOutput {
	return h.foldRaw("ClientRawFilter", f, chunk, func(m *Module) rawHookFn {
		if m.ClientRaw == nil {
			return nil
		}
		return rawHookFn(m.ClientRaw)
	})
}

// ServerRaw folds a chunk read from the upstream server through every
// active module's ServerRawFilter hook, in declared order.
func (h *Host) ServerRaw(f *flow.Flow, chunk []byte) RawOutput {
	return h.foldRaw("ServerRawFilter", f, chunk, func(m *Module) rawHookFn {
		if m.ServerRaw == nil {
			return nil
		}
		return rawHookFn(m.ServerRaw)
	})
}

// RawOpen dispatches the flow-established hook to every active module in
// declared order; any Kill short-circuits the rest of the chain and the
// flow before it opens.
func (h *Host) RawOpen(f *flow.Flow) RawOutput {
	for _, m := range h.active() {
		if m.RawOpen == nil {
			continue
		}
		var out RawOutput
		panicked := h.guard(m, "RawOpen", func() { out = m.RawOpen(h.state(m.Name), f) })
		if panicked {
			if !m.SkipOnError {
				break
			}
			continue
		}
		if out.Verdict == Kill {
			return KillRaw()
		}
	}
	return PassthroughRaw()
}

// RawClose notifies every active module that a raw flow reached a
// terminal state, in declared order. Called at most once per flow. A
// panicking module's close hook does not stop the rest of the chain from
// being notified.
func (h *Host) RawClose(f *flow.Flow, cause flow.CloseCause) {
	for _, m := range h.active() {
		if m.RawClose == nil {
			continue
		}
		h.guard(m, "RawClose", func() { m.RawClose(h.state(m.Name), f, cause) })
	}
}

// HTTPFilter folds one request/response pair through every active
// module's HTTPFilter hook, in declared order, threading whichever side
// (request or response) each module chose to replace into the next
// module's input.
func (h *Host) HTTPFilter(f *flow.HTTPFlow, req *flow.HTTPReq, resp *flow.HTTPResp) HTTPOutput {
	changed := false

	for _, m := range h.active() {
		if m.HTTPFilter == nil {
			continue
		}

		var out HTTPOutput
		panicked := h.guard(m, "HTTPFilter", func() { out = m.HTTPFilter(h.state(m.Name), f, req, resp) })
		if panicked {
			if !m.SkipOnError {
				break
			}
			continue
		}

		switch out.Verdict {
		case Kill:
			return KillHTTP()
		case Replace:
			changed = true
			if out.Request != nil {
				req = out.Request
			}
			if out.Response != nil {
				resp = out.Response
			}
		}
	}

	if !changed {
		return PassthroughHTTP()
	}
	return HTTPOutput{Verdict: Replace, Request: req, Response: resp}
}

// HTTPOpen dispatches the HTTP-flow-established hook to every active
// module in declared order; any Kill short-circuits the rest of the chain
// and the flow before it opens.
func (h *Host) HTTPOpen(f *flow.HTTPFlow) HTTPOutput {
	for _, m := range h.active() {
		if m.HTTPOpen == nil {
			continue
		}
		var out HTTPOutput
		panicked := h.guard(m, "HTTPOpen", func() { out = m.HTTPOpen(h.state(m.Name), f) })
		if panicked {
			if !m.SkipOnError {
				break
			}
			continue
		}
		if out.Verdict == Kill {
			return KillHTTP()
		}
	}
	return PassthroughHTTP()
}

// HTTPClose notifies every active module that an HTTP flow's connection
// closed, in declared order. Called at most once per flow.
func (h *Host) HTTPClose(f *flow.HTTPFlow, cause flow.CloseCause) {
	for _, m := range h.active() {
		if m.HTTPClose == nil {
			continue
		}
		h.guard(m, "HTTPClose", func() { m.HTTPClose(h.state(m.Name), f, cause) })
	}
}
