// Package httpengine orchestrates the HTTP Flow Engine: it parses
// requests and responses off a connection pair with internal/httpproto,
// invokes the filter host's HTTP hooks exactly once per request/response
// pair, re-serializes whatever the filter returned, and decides
// keep-alive vs close for the next pipelined pair.
//
// Grounded on the teacher's proxy.Proxy.handleNonStreaming: buffer the
// full body, evaluate, rewrite-if-needed, re-emit headers/body — the same
// buffer-then-forward shape, generalized from JSON tool-call inspection
// over an http.Response to an arbitrary filter hook over a parsed
// flow.HTTPResp.
package httpengine

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/simoneerrigo/proxad/internal/filterhost"
	"github.com/simoneerrigo/proxad/internal/flow"
	"github.com/simoneerrigo/proxad/internal/httpproto"
)

// Options configures one HTTP flow's lifetime: a client connection and a
// function that dials (or reuses) the upstream connection for each
// request, since an HTTP flow may span more requests than the upstream
// keeps one TCP connection alive for.
type Options struct {
	Client net.Conn
	Dial   func(ctx context.Context) (net.Conn, error)
	Host   *filterhost.Host
}

// Run pumps an HTTP flow — one or more pipelined request/response pairs —
// to completion. It never returns an error for ordinary client/network
// conditions; those end the loop and are reflected in the returned flow's
// CloseCause, per spec.md §7.
func Run(ctx context.Context, opts Options) *flow.HTTPFlow {
	hf := flow.NewHTTPFlow(
		flow.Endpoint{Network: "tcp", Addr: opts.Client.RemoteAddr()},
		flow.Endpoint{},
	)
	hf.SetState(flow.StateOpen)
	defer opts.Client.Close()

	if out := opts.Host.HTTPOpen(hf); out.Verdict == filterhost.Kill {
		hf.SetState(flow.StateKilled)
		hf.SetCloseCause(flow.CauseKilled)
		opts.Host.HTTPClose(hf, flow.CauseKilled)
		return hf
	}

	clientReader := bufio.NewReader(opts.Client)

	var upstream net.Conn
	var upstreamReader *bufio.Reader
	closeUpstream := func() {
		if upstream != nil {
			upstream.Close()
			upstream = nil
			upstreamReader = nil
		}
	}
	defer closeUpstream()

	for {
		req, err := httpproto.ParseRequest(clientReader)
		if err != nil {
			if !isOrdinaryEOF(err) {
				if writeErr := writeSynthetic(opts.Client, 400, "Bad Request"); writeErr != nil {
					slog.Warn("http flow: failed writing synthetic 400", "flow", hf.ID(), "error", writeErr)
				}
				hf.SetCloseCause(flow.CauseErrored)
			} else {
				hf.SetCloseCause(flow.CauseClosed)
			}
			break
		}

		hf.NextRequestOrdinal()
		hf.ClientHistory.Append(req.Raw)

		if upstream == nil {
			upstream, err = opts.Dial(ctx)
			if err != nil {
				slog.Error("http flow: upstream dial failed", "flow", hf.ID(), "error", err)
				writeSynthetic(opts.Client, 502, "Bad Gateway")
				hf.SetCloseCause(flow.CauseErrored)
				break
			}
			upstreamReader = bufio.NewReader(upstream)
		}

		clientWantsKeepAlive := httpproto.KeepAlive(req.Version, req.Headers)

		httpproto.StripHopByHop(req.Headers)
		if _, err := upstream.Write(httpproto.SerializeRequest(req)); err != nil {
			slog.Warn("http flow: upstream write failed", "flow", hf.ID(), "error", err)
			writeSynthetic(opts.Client, 502, "Bad Gateway")
			hf.SetCloseCause(flow.CauseErrored)
			break
		}

		requestWasHead := req.Method == "HEAD"
		resp, err := httpproto.ParseResponse(upstreamReader, requestWasHead)
		if err != nil {
			slog.Warn("http flow: malformed upstream response", "flow", hf.ID(), "error", err)
			writeSynthetic(opts.Client, 502, "Bad Gateway")
			hf.SetCloseCause(flow.CauseErrored)
			closeUpstream()
			break
		}
		hf.ServerHistory.Append(httpproto.SerializeResponse(resp))

		out := opts.Host.HTTPFilter(hf, req, resp)
		switch out.Verdict {
		case filterhost.Kill:
			hf.SetState(flow.StateKilled)
			hf.SetCloseCause(flow.CauseKilled)
			opts.Host.HTTPClose(hf, flow.CauseKilled)
			return hf
		case filterhost.Replace:
			if out.Response != nil {
				resp = out.Response
			}
		}

		serverWantsKeepAlive := httpproto.KeepAlive(resp.Version, resp.Headers)
		httpproto.StripHopByHop(resp.Headers)
		if _, err := opts.Client.Write(httpproto.SerializeResponse(resp)); err != nil {
			slog.Warn("http flow: client write failed", "flow", hf.ID(), "error", err)
			hf.SetCloseCause(flow.CauseErrored)
			break
		}

		if !clientWantsKeepAlive || !serverWantsKeepAlive {
			hf.SetCloseCause(flow.CauseClosed)
			break
		}

		select {
		case <-ctx.Done():
			hf.SetCloseCause(flow.CauseClosed)
		default:
			continue
		}
		break
	}

	if hf.State() != flow.StateKilled {
		hf.SetState(flow.StateClosed)
	}
	opts.Host.HTTPClose(hf, hf.CloseCause())
	return hf
}

func isOrdinaryEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}

func writeSynthetic(w io.Writer, status int, reason string) error {
	_, err := io.WriteString(w, "HTTP/1.1 "+strconv.Itoa(status)+" "+reason+"\r\nConnection: close\r\nContent-Length: 0\r\n\r\n")
	return err
}
