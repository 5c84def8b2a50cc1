package rawengine

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/simoneerrigo/proxad/internal/filterhost"
	"github.com/simoneerrigo/proxad/internal/flow"
)

func TestRunReplacesPingWithPongOnServerDirection(t *testing.T) {
	clientA, clientB := net.Pipe() // clientA is "the client", clientB is proxad's client-facing socket
	serverA, serverB := net.Pipe() // serverB is "the upstream", serverA is proxad's server-facing socket

	m := &filterhost.Module{
		Name: "ping-pong",
		ServerRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) filterhost.RawOutput {
			return filterhost.ReplaceRaw(bytes.ReplaceAll(chunk, []byte("PING"), []byte("PONG")))
		},
		SkipOnError: true,
	}
	host := filterhost.NewWithModule(m)

	done := make(chan *flow.Flow, 1)
	go func() {
		done <- Run(context.Background(), Options{Client: clientB, Server: serverA, Host: host})
	}()

	go func() {
		serverB.Write([]byte("PING"))
		serverB.Close()
	}()

	buf := make([]byte, 16)
	clientA.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientA.Read(buf)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(buf[:n]) != "PONG" {
		t.Fatalf("expected PONG forwarded to client, got %q", buf[:n])
	}

	clientA.Close()
	select {
	case f := <-done:
		if f.CloseCause() == flow.CauseErrored {
			t.Fatalf("expected a clean close cause, got ERRORED")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not complete after both sides closed")
	}
}

func TestRunKillsFlowWhenRawOpenKills(t *testing.T) {
	clientA, clientB := net.Pipe()
	serverA, serverB := net.Pipe()
	defer clientA.Close()
	defer serverB.Close()

	m := &filterhost.Module{
		Name:      "gatekeeper",
		RawOpen:   func(state *flow.Attrs, f *flow.Flow) filterhost.RawOutput { return filterhost.KillRaw() },
		SkipOnError: true,
	}
	host := filterhost.NewWithModule(m)

	f := Run(context.Background(), Options{Client: clientB, Server: serverA, Host: host})
	if f.State() != flow.StateKilled {
		t.Fatalf("expected flow state KILLED, got %v", f.State())
	}
	if f.CloseCause() != flow.CauseKilled {
		t.Fatalf("expected close cause KILLED, got %v", f.CloseCause())
	}
}

func TestRunKillsFlowWhenClientFilterKills(t *testing.T) {
	clientA, clientB := net.Pipe()
	serverA, serverB := net.Pipe()
	defer serverB.Close()

	m := &filterhost.Module{
		Name: "evil-detector",
		ClientRaw: func(state *flow.Attrs, f *flow.Flow, chunk []byte) filterhost.RawOutput {
			if bytes.Contains(chunk, []byte("EVIL")) {
				return filterhost.KillRaw()
			}
			return filterhost.PassthroughRaw()
		},
		SkipOnError: true,
	}
	host := filterhost.NewWithModule(m)

	done := make(chan *flow.Flow, 1)
	go func() {
		done <- Run(context.Background(), Options{Client: clientB, Server: serverA, Host: host})
	}()

	clientA.Write([]byte("EVIL"))

	select {
	case f := <-done:
		if f.State() != flow.StateKilled {
			t.Fatalf("expected KILLED state, got %v", f.State())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not complete after kill-triggering chunk")
	}
	clientA.Close()
}

// tcpPipe returns a pair of connected *net.TCPConn (unlike net.Pipe,
// these support CloseWrite), so tests can exercise the half-close path.
func tcpPipe(t *testing.T) (a, b *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	return dialed.(*net.TCPConn), (<-accepted).(*net.TCPConn)
}

func TestRunHalfClosesPeerInsteadOfFullyClosingOnOneDirectionEOF(t *testing.T) {
	testClient, proxyClient := tcpPipe(t)
	testServer, proxyServer := tcpPipe(t)
	defer testClient.Close()
	defer testServer.Close()

	host := filterhost.NewWithModule(nil)

	done := make(chan *flow.Flow, 1)
	go func() {
		done <- Run(context.Background(), Options{Client: proxyClient, Server: proxyServer, Host: host})
	}()

	// The client is done sending but can still receive — a genuine
	// half-close, not a hang-up.
	if err := testClient.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}

	// The server keeps streaming after the client's direction ended. If
	// the client-side pump fully closed the shared Server connection
	// instead of half-closing its own write side, this write (or the
	// client's subsequent read) would fail.
	if _, err := testServer.Write([]byte("LATE")); err != nil {
		t.Fatalf("server write after peer half-close: %v", err)
	}

	testClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := testClient.Read(buf)
	if err != nil {
		t.Fatalf("expected client to still receive data after its own half-close, got error: %v", err)
	}
	if string(buf[:n]) != "LATE" {
		t.Fatalf("expected %q, got %q", "LATE", buf[:n])
	}

	testServer.Close()

	select {
	case f := <-done:
		if f.CloseCause() == flow.CauseErrored {
			t.Fatalf("expected a clean close cause, got ERRORED")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not complete after both directions finished")
	}
}

func TestRunIdleTimeoutIsFlowWideNotPerDirection(t *testing.T) {
	testClient, proxyClient := tcpPipe(t)
	testServer, proxyServer := tcpPipe(t)
	defer testClient.Close()

	host := filterhost.NewWithModule(nil)

	const idle = 60 * time.Millisecond
	done := make(chan *flow.Flow, 1)
	go func() {
		done <- Run(context.Background(), Options{Client: proxyClient, Server: proxyServer, Host: host, IdleTimeout: idle})
	}()

	// The client side never sends anything, but the server keeps the
	// flow busy well past what a per-direction idle timeout would allow.
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(idle / 3)
		defer ticker.Stop()
		for i := 0; i < 20; i++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				testServer.Write([]byte("x"))
			}
		}
	}()

	select {
	case <-done:
		close(stop)
		t.Fatalf("flow closed early even though the server direction kept making progress")
	case <-time.After(idle * 4):
	}
	close(stop)
	testServer.Close()

	select {
	case f := <-done:
		if f.CloseCause() != flow.CauseClosed {
			t.Fatalf("expected eventual CLOSED cause, got %v", f.CloseCause())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not complete after the flow finally went idle")
	}
}

func TestRunAppendsChunksToHistoryInOrder(t *testing.T) {
	clientA, clientB := net.Pipe()
	serverA, serverB := net.Pipe()
	defer serverB.Close()

	host := filterhost.NewWithModule(nil)

	// net.Pipe is synchronous: the upstream end must be drained or the
	// client->server pump blocks on its first forward.
	go io.Copy(io.Discard, serverB)

	done := make(chan *flow.Flow, 1)
	go func() {
		done <- Run(context.Background(), Options{Client: clientB, Server: serverA, Host: host})
	}()

	clientA.Write([]byte("hello "))
	clientA.Write([]byte("world"))
	time.Sleep(50 * time.Millisecond)
	clientA.Close()

	f := <-done
	if string(f.ClientHistory.Bytes()) != "hello world" {
		t.Fatalf("expected ordered history, got %q", f.ClientHistory.Bytes())
	}
}
