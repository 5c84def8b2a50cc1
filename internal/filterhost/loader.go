package filterhost

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"plugin"

	"github.com/simoneerrigo/proxad/internal/flow"
)

// wellKnownHooks are the exported symbol names a filter module may
// define, per SPEC_FULL.md §4.1's generalization of
// original_source/test/filter.py and filter_http.py's module-level hook
// functions.
const (
	symClientRaw  = "ClientRawFilter"
	symServerRaw  = "ServerRawFilter"
	symRawOpen    = "RawOpen"
	symRawClose   = "RawClose"
	symHTTPFilter = "HTTPFilter"
	symHTTPOpen   = "HTTPOpen"
	symHTTPClose  = "HTTPClose"

	// SkipOnError / PrintOnError are optional exported bool vars a module
	// can use to override the default failure-isolation policy.
	symSkipOnError  = "SkipOnError"
	symPrintOnError = "PrintOnError"
)

// hashFile returns the hex sha256 digest of path's contents, used to
// decide whether a module actually changed before paying the cost of a
// plugin.Open + symbol re-resolution.
func hashFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// LoadModule opens the plugin at path and resolves its hook symbols. A
// module exporting none of the well-known hook names loads successfully
// but dispatches as a no-op on every hook — this is intentional: a filter
// author iterating on one hook shouldn't have to stub out the rest.
func LoadModule(path string) (*Module, error) {
	hash, err := hashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hashing filter module %s: %w", path, err)
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening filter module %s: %w", path, err)
	}

	m := &Module{
		Name:         filepath.Base(path),
		Path:         path,
		Hash:         hash,
		SkipOnError:  true,
		PrintOnError: true,
	}

	if sym, err := p.Lookup(symClientRaw); err == nil {
		if fn, ok := sym.(func(*flow.Attrs, *flow.Flow, []byte) RawOutput); ok {
			m.ClientRaw = ClientRawHook(fn)
		}
	}
	if sym, err := p.Lookup(symServerRaw); err == nil {
		if fn, ok := sym.(func(*flow.Attrs, *flow.Flow, []byte) RawOutput); ok {
			m.ServerRaw = ServerRawHook(fn)
		}
	}
	if sym, err := p.Lookup(symRawOpen); err == nil {
		if fn, ok := sym.(func(*flow.Attrs, *flow.Flow) RawOutput); ok {
			m.RawOpen = RawOpenHook(fn)
		}
	}
	if sym, err := p.Lookup(symRawClose); err == nil {
		if fn, ok := sym.(func(*flow.Attrs, *flow.Flow, flow.CloseCause)); ok {
			m.RawClose = RawCloseHook(fn)
		}
	}
	if sym, err := p.Lookup(symHTTPFilter); err == nil {
		if fn, ok := sym.(func(*flow.Attrs, *flow.HTTPFlow, *flow.HTTPReq, *flow.HTTPResp) HTTPOutput); ok {
			m.HTTPFilter = HTTPFilterHook(fn)
		}
	}
	if sym, err := p.Lookup(symHTTPOpen); err == nil {
		if fn, ok := sym.(func(*flow.Attrs, *flow.HTTPFlow) HTTPOutput); ok {
			m.HTTPOpen = HTTPOpenHook(fn)
		}
	}
	if sym, err := p.Lookup(symHTTPClose); err == nil {
		if fn, ok := sym.(func(*flow.Attrs, *flow.HTTPFlow, flow.CloseCause)); ok {
			m.HTTPClose = HTTPCloseHook(fn)
		}
	}

	if sym, err := p.Lookup(symSkipOnError); err == nil {
		if v, ok := sym.(*bool); ok {
			m.SkipOnError = *v
		}
	}
	if sym, err := p.Lookup(symPrintOnError); err == nil {
		if v, ok := sym.(*bool); ok {
			m.PrintOnError = *v
		}
	}

	return m, nil
}
