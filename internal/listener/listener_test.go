package listener

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/simoneerrigo/proxad/internal/filterhost"
)

func startEchoUpstream(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	return ln
}

func TestManagerBindsAndRelaysRawTraffic(t *testing.T) {
	upstream := startEchoUpstream(t)
	defer upstream.Close()

	host := filterhost.NewWithModule(nil)
	m := NewManager(host)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := m.Bind(ctx, []Spec{{
		Name:     "raw-test",
		Network:  "tcp",
		Addr:     "127.0.0.1:0",
		Mode:     ModeRaw,
		Upstream: upstream.Addr().String(),
	}})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	addr := m.listeners[0].Addr().String()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("hello"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("hello")) {
		t.Fatalf("expected echoed bytes, got %q", buf[:n])
	}

	m.Shutdown(time.Second)
}

func TestManagerShutdownClosesListeners(t *testing.T) {
	host := filterhost.NewWithModule(nil)
	m := NewManager(host)
	ctx := context.Background()

	err := m.Bind(ctx, []Spec{{Name: "t", Network: "tcp", Addr: "127.0.0.1:0", Mode: ModeRaw, Upstream: "127.0.0.1:1"}})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	addr := m.listeners[0].Addr().String()

	m.Shutdown(100 * time.Millisecond)

	if _, err := net.Dial("tcp", addr); err == nil {
		t.Fatalf("expected dial to closed listener to fail")
	}
}
