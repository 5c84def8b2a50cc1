// Package listener binds proxad's front-facing sockets, assigns each
// accepted connection to the raw or HTTP flow engine, and owns graceful
// shutdown with a bounded drain deadline.
//
// Grounded on cmd/ctrlai/main.go's runStart: a signal.NotifyContext
// driving a select between the running server and an OS signal/shutdown
// request, then a bounded-deadline Shutdown call — generalized here from
// one *http.Server to an arbitrary set of listeners (raw or HTTP, plain
// or TLS) tracked with a WaitGroup, since proxad has no single
// http.Server to delegate the drain to.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/simoneerrigo/proxad/internal/filterhost"
	"github.com/simoneerrigo/proxad/internal/httpengine"
	"github.com/simoneerrigo/proxad/internal/rawengine"
)

// Mode selects which flow engine an accepted connection is handed to.
type Mode int

const (
	ModeRaw Mode = iota
	ModeHTTP
)

// Spec describes one front-facing listener.
type Spec struct {
	Name        string // for logging/audit
	Network     string // "tcp"
	Addr        string
	Mode        Mode
	TLSConfig   *tls.Config // nil for plaintext
	Upstream    string      // dial target for this listener's traffic
	DialTLS     *tls.Config // non-nil to re-wrap the upstream connection in TLS (client-initiate mode)
	IdleTimeout time.Duration
}

// Manager owns the set of bound listeners and the flows they spawn.
type Manager struct {
	host *filterhost.Host

	mu        sync.Mutex
	listeners []net.Listener

	flowCtx    context.Context
	cancelFlow context.CancelFunc

	wg sync.WaitGroup
}

func NewManager(host *filterhost.Host) *Manager {
	return &Manager{host: host}
}

// Bind opens listeners for every Spec and starts accepting in background
// goroutines. It returns once all listeners are bound (or the first bind
// error occurs), not once they've finished serving. ctx bounds the
// lifetime of every flow Bind spawns — cancelling it (or calling
// Shutdown) tells every in-flight pump to stop at its next loop boundary.
func (m *Manager) Bind(ctx context.Context, specs []Spec) error {
	m.flowCtx, m.cancelFlow = context.WithCancel(ctx)

	for _, spec := range specs {
		ln, err := net.Listen(spec.Network, spec.Addr)
		if err != nil {
			m.closeAll()
			return err
		}
		if spec.TLSConfig != nil {
			ln = tls.NewListener(ln, spec.TLSConfig)
		}

		m.mu.Lock()
		m.listeners = append(m.listeners, ln)
		m.mu.Unlock()

		slog.Info("listener bound", "name", spec.Name, "addr", ln.Addr().String(), "mode", modeString(spec.Mode))

		m.wg.Add(1)
		go m.acceptLoop(ln, spec)
	}
	return nil
}

func modeString(m Mode) string {
	if m == ModeHTTP {
		return "http"
	}
	return "raw"
}

func (m *Manager) acceptLoop(ln net.Listener, spec Spec) {
	defer m.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-m.flowCtx.Done():
				return
			default:
			}
			slog.Warn("accept error", "listener", spec.Name, "error", err)
			continue
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.handle(conn, spec)
		}()
	}
}

func (m *Manager) handle(conn net.Conn, spec Spec) {
	ctx := m.flowCtx
	dial := func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{}
		raw, err := d.DialContext(ctx, "tcp", spec.Upstream)
		if err != nil {
			return nil, err
		}
		if spec.DialTLS != nil {
			tlsConn := tls.Client(raw, spec.DialTLS)
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				raw.Close()
				return nil, err
			}
			return tlsConn, nil
		}
		return raw, nil
	}

	switch spec.Mode {
	case ModeHTTP:
		httpengine.Run(ctx, httpengine.Options{Client: conn, Dial: dial, Host: m.host})
	default:
		upstream, err := dial(ctx)
		if err != nil {
			slog.Warn("raw flow: upstream dial failed", "listener", spec.Name, "error", err)
			conn.Close()
			return
		}
		rawengine.Run(ctx, rawengine.Options{Client: conn, Server: upstream, Host: m.host, IdleTimeout: spec.IdleTimeout})
	}
}

// Shutdown closes every bound listener (no more new connections) and
// waits up to drain for in-flight flows to finish on their own; any still
// running after the deadline are left to the caller's context
// cancellation to tear down, matching cmd/ctrlai/main.go's bounded
// server.Shutdown(shutdownCtx) call.
func (m *Manager) Shutdown(drain time.Duration) {
	m.closeAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drain):
		slog.Warn("shutdown drain deadline exceeded, cancelling remaining flows", "drain", drain)
		if m.cancelFlow != nil {
			m.cancelFlow()
		}
		// Cancellation only stops a flow at its next loop boundary — a
		// pump blocked in a single Read with no deadline may still
		// linger until its peer socket closes. Shutdown does not block
		// further on that; it has already honored the drain budget.
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ln := range m.listeners {
		ln.Close()
	}
}
