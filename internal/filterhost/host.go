package filterhost

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/simoneerrigo/proxad/internal/flow"
)

// Host owns the ordered chain of currently active filter modules, the
// background watcher that hot-swaps any one of them on change, and the
// named persistent-state containers that survive a reload — the Go
// generalization of original_source/test/filter.py's `persist` sys.modules
// trick (there, a module-global dict object kept alive across re-imports
// by stashing it in sys.modules; here, an explicit map keyed by module
// name).
//
// Grounded on internal/config/watcher.go's fsnotify goroutine/select
// pattern and internal/engine/engine.go's RWMutex-guarded Reload, adapted
// from rules-file hot reload to compiled-plugin hot reload, and on
// spec.md §4.1's Chain runner: modules are applied to every chunk/pair in
// the declared order captured here.
type Host struct {
	mu      sync.RWMutex
	modules []*Module // declared chain order; nil/empty means no filtering

	statesMu sync.Mutex
	states   map[string]*flow.Attrs

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewHost resolves each entry of paths to one or more compiled filter
// modules, loads them in declared order, and starts watching every
// touched directory for content changes. A path entry is either a direct
// .so file (used as-is) or a directory (expanded to its *.so entries in
// lexical order); the overall chain order is paths-list order, then
// lexical order within each directory. An empty paths slice is valid and
// means "no filters loaded" — every hook dispatch is then a no-op
// passthrough, useful for running proxad with inspection disabled.
func NewHost(paths []string) (*Host, error) {
	h := &Host{
		states: make(map[string]*flow.Attrs),
		done:   make(chan struct{}),
	}

	resolved, err := resolveFilterPaths(paths)
	if err != nil {
		return nil, err
	}
	if len(resolved) == 0 {
		return h, nil
	}

	for _, p := range resolved {
		m, err := LoadModule(p)
		if err != nil {
			return nil, fmt.Errorf("loading filter module %s: %w", p, err)
		}
		h.modules = append(h.modules, m)
		slog.Info("filter module loaded", "path", p, "hash", m.Hash[:12])
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filter watcher: %w", err)
	}
	watched := make(map[string]bool)
	for _, p := range resolved {
		dir := filepath.Dir(p)
		if watched[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watching filter directory %s: %w", dir, err)
		}
		watched[dir] = true
	}
	h.fsWatcher = fw
	go h.watch()

	return h, nil
}

// NewWithModule builds a Host around an already-loaded single Module with
// no filesystem watcher attached. Used for statically-wired filters
// (tests, or a default in-repo module that has no reason to hot-reload).
// A nil m produces an empty, always-passthrough Host.
func NewWithModule(m *Module) *Host {
	h := &Host{states: make(map[string]*flow.Attrs), done: make(chan struct{})}
	if m != nil {
		h.modules = []*Module{m}
	}
	return h
}

// resolveFilterPaths expands each entry of paths into a flat, ordered
// list of loadable .so files: a file entry is kept as-is, a directory
// entry is expanded to its *.so children in lexical order. Declared order
// across the whole paths slice is preserved.
func resolveFilterPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("resolving filter path %s: %w", p, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("reading filter directory %s: %w", p, err)
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".so" {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, filepath.Join(p, n))
		}
	}
	return out, nil
}

// state returns the persistent Attrs container for a module name,
// creating it on first use. Containers are never removed on reload, only
// on Host shutdown, so a module's counters/caches survive across edits.
func (h *Host) state(name string) *flow.Attrs {
	h.statesMu.Lock()
	defer h.statesMu.Unlock()
	a, ok := h.states[name]
	if !ok {
		a = flow.NewAttrs()
		h.states[name] = a
	}
	return a
}

func (h *Host) watch() {
	for {
		select {
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := h.reload(filepath.Clean(event.Name)); err != nil {
				slog.Error("filter module reload failed, keeping previous module active", "path", event.Name, "error", err)
			}

		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("filter watcher error", "error", err)

		case <-h.done:
			return
		}
	}
}

// reload re-opens the already-compiled .so at path if it belongs to this
// Host's chain, swapping the module in place so the chain's declared
// order is preserved across a hot-reload. A path not tracked by this Host
// (e.g. an unrelated file written into a watched directory) is ignored.
// proxad does not invoke the Go toolchain itself (filter authors build
// their own plugins, typically via a Makefile target or `go build
// -buildmode=plugin` in a watch loop); reload only re-reads and re-links
// the resulting shared object. It is a no-op when the content hash is
// unchanged, so a filesystem touch that doesn't change bytes doesn't pay
// the plugin.Open cost nor reset dispatch-in-flight assumptions.
func (h *Host) reload(path string) error {
	h.mu.RLock()
	idx := -1
	for i, m := range h.modules {
		if filepath.Clean(m.Path) == path {
			idx = i
			break
		}
	}
	h.mu.RUnlock()
	if idx == -1 {
		return nil
	}

	hash, err := hashFile(path)
	if err != nil {
		return err
	}

	h.mu.RLock()
	unchanged := h.modules[idx].Hash == hash
	h.mu.RUnlock()
	if unchanged {
		return nil
	}

	m, err := LoadModule(path)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.modules[idx] = m
	h.mu.Unlock()

	slog.Info("filter module reloaded", "path", path, "hash", hash[:12])
	return nil
}

// Close stops the background watcher. Safe to call multiple times.
func (h *Host) Close() error {
	select {
	case <-h.done:
		return nil
	default:
		close(h.done)
	}
	if h.fsWatcher != nil {
		return h.fsWatcher.Close()
	}
	return nil
}

// active returns a snapshot of the declared-order module chain.
func (h *Host) active() []*Module {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.modules) == 0 {
		return nil
	}
	mods := make([]*Module, len(h.modules))
	copy(mods, h.modules)
	return mods
}

// ModuleStatus reports one loaded module's identity.
type ModuleStatus struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Status reports every currently active module's name, path, and content
// hash, in declared chain order, for the dashboard and `proxad filters
// list` CLI command. An empty slice means no module has been loaded yet
// (or the Host was built with no filter paths).
func (h *Host) Status() []ModuleStatus {
	mods := h.active()
	out := make([]ModuleStatus, len(mods))
	for i, m := range mods {
		out[i] = ModuleStatus{Name: m.Name, Path: m.Path, Hash: m.Hash}
	}
	return out
}
