package httpproto

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/simoneerrigo/proxad/internal/flow"
)

// SerializeRequest re-encodes a (possibly filter-mutated) request to wire
// bytes. The request target is rebuilt from URI.Params when present so
// that a filter editing Params round-trips per spec.md §8; if Params is
// nil or empty the target is URI.Path when set, otherwise the original
// Raw target verbatim.
func SerializeRequest(req *flow.HTTPReq) []byte {
	var buf bytes.Buffer
	target := req.URI.Raw
	if req.URI.Params != nil && len(req.URI.Params.Keys()) > 0 {
		target = encodeTarget(req.URI.Path, req.URI.Params)
	} else if req.URI.Path != "" {
		target = req.URI.Path
	}

	fmt.Fprintf(&buf, "%s %s %s\r\n", req.Method, target, req.Version)
	writeHeadersAndBody(&buf, req.Headers, req.Body)
	return buf.Bytes()
}

// SerializeResponse re-encodes a (possibly filter-mutated) response.
func SerializeResponse(resp *flow.HTTPResp) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d %s\r\n", resp.Version, resp.Status, statusText(resp.Status))
	writeHeadersAndBody(&buf, resp.Headers, resp.Body)
	return buf.Bytes()
}

// writeHeadersAndBody recomputes Content-Length from the actual body
// length and drops Transfer-Encoding, unless the headers declare
// Transfer-Encoding: chunked; then headers and Body are written as-is, so
// Body must already be chunk-framed. httpengine strips Transfer-Encoding
// as a hop-by-hop header before serializing, so every message it forwards
// carries Content-Length framing.
func writeHeadersAndBody(buf *bytes.Buffer, h *flow.Headers, body []byte) {
	out := h.Clone()
	if te, ok := out.Get("Transfer-Encoding"); !ok || !strings.Contains(strings.ToLower(te), "chunked") {
		out.Del("Transfer-Encoding")
		out.Set("Content-Length", strconv.Itoa(len(body)))
	}
	for _, item := range out.Items() {
		fmt.Fprintf(buf, "%s: %s\r\n", item.Name, item.Value)
	}
	buf.WriteString("\r\n")
	buf.Write(body)
}

func encodeTarget(path string, params *flow.OrderedParams) string {
	var qs []string
	for _, k := range params.Keys() {
		vals, _ := params.Get(k)
		for _, v := range vals {
			qs = append(qs, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	if len(qs) == 0 {
		return path
	}
	return path + "?" + strings.Join(qs, "&")
}

// statusText returns a reason phrase; proxad does not depend on
// net/http's status table to keep httpproto self-contained, but mirrors
// the common phrases a filter author would expect to see on the wire.
func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}
