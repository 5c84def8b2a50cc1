// Package rawengine runs the per-flow byte pump for raw TCP/TLS flows:
// accept, dial upstream, invoke RawOpen, then pump chunks in both
// directions through the filter host until the flow reaches a terminal
// state.
//
// The bidirectional two-goroutine relay shape is grounded on
// other_examples' ssh-ify tunnel.Session.Relay (client<->target copy
// goroutines, each closing its peer on EOF to unblock the other side);
// proxad's pump differs from a plain io.Copy relay in that every chunk is
// handed to the filter host before being forwarded, since that's the
// entire point of an intercepting proxy (spec.md §4.2). It also differs
// in how a direction's termination is propagated: spec.md §4.2 requires a
// half-close (shutdown the write side, let the peer drain to its own
// EOF), not the full close a plain relay can get away with, since a full
// close here would sever the connection object the other direction's
// goroutine is still reading from or writing to.
package rawengine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simoneerrigo/proxad/internal/filterhost"
	"github.com/simoneerrigo/proxad/internal/flow"
)

// maxChunk bounds a single read, per spec.md §5's resource model: a flow
// must never buffer an unbounded amount of attacker-controlled data in
// one pass.
const maxChunk = 64 * 1024

// idleCheckInterval bounds how often the idle monitor goroutine samples
// the shared last-activity clock, scaled to the configured timeout so a
// short IdleTimeout (as used in tests) is still detected promptly.
func idleCheckInterval(idle time.Duration) time.Duration {
	const floor = 10 * time.Millisecond
	if q := idle / 4; q > floor {
		return q
	}
	return floor
}

// Options configures one raw flow's lifetime.
type Options struct {
	Client      net.Conn
	Server      net.Conn
	Host        *filterhost.Host
	IdleTimeout time.Duration // 0 disables idle timeout
}

// Run pumps a raw flow to completion, blocking until both directions have
// closed or the flow was killed. It never returns an error for ordinary
// network conditions (EOF, reset, timeout) — those are reported through
// the flow's CloseCause and logged, per spec.md §7's "errors never crash
// the proxy" requirement. Run closes both Client and Server before
// returning.
func Run(ctx context.Context, opts Options) *flow.Flow {
	f := flow.New(
		flow.Endpoint{Network: "tcp", Addr: opts.Client.RemoteAddr()},
		flow.Endpoint{Network: "tcp", Addr: opts.Server.RemoteAddr()},
	)
	f.SetState(flow.StateOpen)

	defer func() {
		opts.Client.Close()
		opts.Server.Close()
	}()

	out := opts.Host.RawOpen(f)
	if out.Verdict == filterhost.Kill {
		f.SetState(flow.StateKilled)
		f.SetCloseCause(flow.CauseKilled)
		opts.Host.RawClose(f, flow.CauseKilled)
		return f
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// lastActivity is a flow-wide clock, not a per-direction one: either
	// side making progress resets it, so the idle timeout in spec.md §5
	// only fires when *neither* direction has progressed, not merely
	// whichever direction happens to fall silent first.
	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())

	var wg sync.WaitGroup
	wg.Add(2)

	var killedOnce sync.Once
	killFlow := func() {
		killedOnce.Do(func() {
			f.SetState(flow.StateKilled)
			f.SetCloseCause(flow.CauseKilled)
			// Kill semantics (spec.md §4.2) are more aggressive than an
			// ordinary direction's termination: both streams are
			// half-closed then fully closed right away, discarding any
			// further forwarding, rather than waiting for the peer pump
			// to drain to its own EOF.
			halfCloseWrite(opts.Client)
			halfCloseWrite(opts.Server)
			opts.Client.Close()
			opts.Server.Close()
			cancel()
		})
	}

	if opts.IdleTimeout > 0 {
		go monitorIdle(ctx, &lastActivity, opts.IdleTimeout, cancel)
	}

	go func() {
		defer wg.Done()
		pump(ctx, opts.Client, opts.Server, &f.ClientHistory, opts.Host.ClientRaw, f, opts.IdleTimeout, &lastActivity, flow.StateHalfClosedClient, killFlow)
	}()
	go func() {
		defer wg.Done()
		pump(ctx, opts.Server, opts.Client, &f.ServerHistory, opts.Host.ServerRaw, f, opts.IdleTimeout, &lastActivity, flow.StateHalfClosedServer, killFlow)
	}()

	wg.Wait()

	if f.State() != flow.StateKilled {
		f.SetState(flow.StateClosed)
		if f.CloseCause() != flow.CauseErrored {
			f.SetCloseCause(flow.CauseClosed)
		}
	}
	opts.Host.RawClose(f, f.CloseCause())
	return f
}

// monitorIdle cancels ctx once the flow-wide last-activity clock has been
// stale for at least idle, settling the flow to CLOSED (not KILLED) via
// the normal post-wg.Wait() path in Run — an idle timeout is a normal
// close per spec.md §5, not a Kill.
func monitorIdle(ctx context.Context, lastActivity *atomic.Int64, idle time.Duration, cancel context.CancelFunc) {
	ticker := time.NewTicker(idleCheckInterval(idle))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, lastActivity.Load())
			if time.Since(last) >= idle {
				cancel()
				return
			}
		}
	}
}

// filterFn is the shape shared by Host.ClientRaw and Host.ServerRaw.
type filterFn func(f *flow.Flow, chunk []byte) filterhost.RawOutput

// pump reads chunks from src, runs them through the filter, writes the
// (possibly replaced) chunk to dst, and appends the original chunk to
// history. It stops on read/write error, context cancellation, or a Kill
// verdict. On any normal (non-Kill) termination it half-closes dst's
// write side rather than fully closing the shared connection object —
// dst's own direction, driven by the peer pump, is left to drain to its
// own EOF and close itself, per spec.md §4.2's Normal close. idle, when
// positive, sets a per-read deadline purely so the loop wakes up
// periodically to recheck ctx.Done(); the deadline firing is not by
// itself a reason to close anything, since genuine flow-wide idleness is
// decided by the monitor goroutine in Run, not by either direction alone.
func pump(ctx context.Context, src, dst net.Conn, hist *flow.History, filter filterFn, f *flow.Flow, idle time.Duration, lastActivity *atomic.Int64, halfCloseState flow.State, kill func()) {
	defer func() {
		halfCloseWrite(dst)
		if f.State() != flow.StateKilled {
			f.SetState(halfCloseState)
		}
	}()

	buf := make([]byte, maxChunk)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if idle > 0 {
			src.SetReadDeadline(time.Now().Add(idle))
		}

		n, err := src.Read(buf)
		if n > 0 {
			lastActivity.Store(time.Now().UnixNano())

			chunk := buf[:n]
			hist.Append(chunk)

			out := filter(f, chunk)
			switch out.Verdict {
			case filterhost.Kill:
				kill()
				return
			case filterhost.Replace:
				chunk = out.Data
			}

			if _, werr := dst.Write(chunk); werr != nil {
				if !isIgnorable(werr) {
					f.SetCloseCause(flow.CauseErrored)
					slog.Warn("raw flow write error", "flow", f.ID(), "error", werr)
				}
				return
			}
		}

		if err != nil {
			if isTimeout(err) {
				continue // just a wakeup to recheck ctx.Done(); not itself a close reason
			}
			if !errors.Is(err, io.EOF) && !isIgnorable(err) {
				f.SetCloseCause(flow.CauseErrored)
				slog.Warn("raw flow read error", "flow", f.ID(), "error", err)
			}
			return
		}
	}
}

// closeWriter is implemented by *net.TCPConn and *tls.Conn: CloseWrite
// shuts down the write (outbound) half of the connection, sending a FIN
// (or, over TLS, a close_notify) while leaving the read half usable so
// the peer pump can keep draining until it sees its own EOF.
type closeWriter interface {
	CloseWrite() error
}

// halfCloseWrite shuts down conn's write side if it supports CloseWrite,
// falling back to a full Close for connection types that don't (e.g.
// net.Pipe, used by tests) — a half-close is meaningless on those, so a
// full close is the closest available behavior.
func halfCloseWrite(conn net.Conn) {
	if cw, ok := conn.(closeWriter); ok {
		cw.CloseWrite()
		return
	}
	conn.Close()
}

// isTimeout reports whether err is a deadline expiring, as opposed to a
// genuine EOF/I-O condition.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isIgnorable reports whether err is the ordinary "peer went away" noise
// that shouldn't be logged at warning level — grounded on the same
// pattern other_examples' ssh-ify tunnel names isIgnorableError for.
func isIgnorable(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}
