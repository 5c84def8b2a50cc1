package filterhost

import (
	"bytes"
	"testing"

	"github.com/simoneerrigo/proxad/internal/flow"
)

func newTestHost(m *Module) *Host {
	return NewWithModule(m)
}

func TestClientRawPassthroughWhenNoModuleLoaded(t *testing.T) {
	h := newTestHost(nil)
	out := h.ClientRaw(flow.New(flow.Endpoint{}, flow.Endpoint{}), []byte("x"))
	if out.Verdict != Passthrough {
		t.Fatalf("expected Passthrough with no module, got %v", out.Verdict)
	}
}

func TestClientRawPassthroughWhenHookUnset(t *testing.T) {
	h := newTestHost(&Module{Name: "m", SkipOnError: true, PrintOnError: false})
	out := h.ClientRaw(flow.New(flow.Endpoint{}, flow.Endpoint{}), []byte("x"))
	if out.Verdict != Passthrough {
		t.Fatalf("expected Passthrough for unset hook, got %v", out.Verdict)
	}
}

func TestClientRawDispatchesToHook(t *testing.T) {
	m := &Module{
		Name: "echo",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			return ReplaceRaw([]byte("REPLACED"))
		},
		SkipOnError:  true,
		PrintOnError: false,
	}
	h := newTestHost(m)
	out := h.ClientRaw(flow.New(flow.Endpoint{}, flow.Endpoint{}), []byte("x"))
	if out.Verdict != Replace || string(out.Data) != "REPLACED" {
		t.Fatalf("expected replaced output, got %+v", out)
	}
}

func TestClientRawPanicSkipsOnErrorByDefault(t *testing.T) {
	m := &Module{
		Name: "buggy",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			panic("boom")
		},
		SkipOnError:  true,
		PrintOnError: false,
	}
	h := newTestHost(m)
	out := h.ClientRaw(flow.New(flow.Endpoint{}, flow.Endpoint{}), []byte("x"))
	if out.Verdict != Passthrough {
		t.Fatalf("expected Passthrough on panic with SkipOnError=true, got %v", out.Verdict)
	}
}

func TestClientRawPanicNeverKillsEvenWhenSkipOnErrorFalse(t *testing.T) {
	m := &Module{
		Name: "strict",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			panic("boom")
		},
		SkipOnError:  false,
		PrintOnError: false,
	}
	h := newTestHost(m)
	out := h.ClientRaw(flow.New(flow.Endpoint{}, flow.Endpoint{}), []byte("x"))
	if out.Verdict != Passthrough {
		t.Fatalf("expected Passthrough (chunk forwarded unchanged) on panic with SkipOnError=false, got %v", out.Verdict)
	}
}

func newTestChainHost(mods ...*Module) *Host {
	return &Host{modules: mods, states: make(map[string]*flow.Attrs), done: make(chan struct{})}
}

func TestClientRawChainFeedsOutputOfOneIntoTheNext(t *testing.T) {
	upper := &Module{
		Name: "upper",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			return ReplaceRaw(bytes.ToUpper(chunk))
		},
		SkipOnError: true,
	}
	suffix := &Module{
		Name: "suffix",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			return ReplaceRaw(append(append([]byte{}, chunk...), "!"...))
		},
		SkipOnError: true,
	}
	h := newTestChainHost(upper, suffix)
	out := h.ClientRaw(flow.New(flow.Endpoint{}, flow.Endpoint{}), []byte("hi"))
	if out.Verdict != Replace || string(out.Data) != "HI!" {
		t.Fatalf("expected chained output %q, got %+v", "HI!", out)
	}
}

func TestClientRawChainKillFromAnyModuleShortCircuits(t *testing.T) {
	first := &Module{
		Name: "first",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			return KillRaw()
		},
		SkipOnError: true,
	}
	second := &Module{
		Name: "second",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			t.Fatalf("second module must not run after a Kill")
			return PassthroughRaw()
		},
		SkipOnError: true,
	}
	h := newTestChainHost(first, second)
	out := h.ClientRaw(flow.New(flow.Endpoint{}, flow.Endpoint{}), []byte("x"))
	if out.Verdict != Kill {
		t.Fatalf("expected Kill, got %v", out.Verdict)
	}
}

func TestClientRawChainBreaksEarlyButForwardsCurrentValueOnSkipOnErrorFalse(t *testing.T) {
	upper := &Module{
		Name: "upper",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			return ReplaceRaw(bytes.ToUpper(chunk))
		},
		SkipOnError: true,
	}
	strict := &Module{
		Name: "strict",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			panic("boom")
		},
		SkipOnError: false,
	}
	never := &Module{
		Name: "never",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			t.Fatalf("chain must not reach a module after a skip_on_error=false break")
			return PassthroughRaw()
		},
		SkipOnError: true,
	}
	h := newTestChainHost(upper, strict, never)
	out := h.ClientRaw(flow.New(flow.Endpoint{}, flow.Endpoint{}), []byte("hi"))
	if out.Verdict != Replace || string(out.Data) != "HI" {
		t.Fatalf("expected chain to break after 'strict' and forward %q, got %+v", "HI", out)
	}
}

func TestClientRawChainSkipOnErrorTrueContinuesToNextModule(t *testing.T) {
	buggy := &Module{
		Name: "buggy",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			panic("boom")
		},
		SkipOnError: true,
	}
	suffix := &Module{
		Name: "suffix",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			return ReplaceRaw(append(append([]byte{}, chunk...), "!"...))
		},
		SkipOnError: true,
	}
	h := newTestChainHost(buggy, suffix)
	out := h.ClientRaw(flow.New(flow.Endpoint{}, flow.Endpoint{}), []byte("hi"))
	if out.Verdict != Replace || string(out.Data) != "hi!" {
		t.Fatalf("expected chain to continue past the panicking module and forward %q, got %+v", "hi!", out)
	}
}

func TestPersistentStateSurvivesAcrossDispatches(t *testing.T) {
	m := &Module{
		Name: "counter",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) RawOutput {
			v, ok := state.Get("hits")
			n := int64(0)
			if ok {
				n, _ = v.AsInt64()
			}
			state.Set("hits", flow.Int64(n+1))
			return PassthroughRaw()
		},
		SkipOnError: true,
	}
	h := newTestHost(m)
	f := flow.New(flow.Endpoint{}, flow.Endpoint{})
	h.ClientRaw(f, []byte("a"))
	h.ClientRaw(f, []byte("b"))
	h.ClientRaw(f, []byte("c"))

	v, ok := h.state("counter").Get("hits")
	if !ok {
		t.Fatalf("expected persistent hits key to be set")
	}
	n, _ := v.AsInt64()
	if n != 3 {
		t.Fatalf("expected 3 accumulated hits, got %d", n)
	}
}

func TestHTTPFilterDispatchesAndKillVerdictPropagates(t *testing.T) {
	m := &Module{
		Name: "killer",
		HTTPFilter: func(state *flow.Attrs, f *flow.HTTPFlow, req *flow.HTTPReq, resp *flow.HTTPResp) HTTPOutput {
			return KillHTTP()
		},
		SkipOnError: true,
	}
	h := newTestHost(m)
	out := h.HTTPFilter(flow.NewHTTPFlow(flow.Endpoint{}, flow.Endpoint{}), &flow.HTTPReq{}, nil)
	if out.Verdict != Kill {
		t.Fatalf("expected Kill verdict, got %v", out.Verdict)
	}
}

func TestRawCloseCalledOnceIsNoopWithoutModule(t *testing.T) {
	h := newTestHost(nil)
	h.RawClose(flow.New(flow.Endpoint{}, flow.Endpoint{}), flow.CauseClosed) // must not panic
}
