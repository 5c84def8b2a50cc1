package httpproto

import (
	"strings"

	"github.com/simoneerrigo/proxad/internal/flow"
)

// StripHopByHop removes connection-specific headers before a message is
// forwarded across the proxy boundary, grounded on
// internal/proxy/forwarder.go's removeHopByHopHeaders. It also removes any
// header named by a Connection header value, per RFC 7230 §6.1.
func StripHopByHop(h *flow.Headers) {
	if conn, ok := h.Get("Connection"); ok {
		for _, name := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for name := range HopByHopHeaders {
		h.Del(name)
	}
}

// KeepAlive reports whether the connection should remain open after this
// request/response pair, based on the HTTP version default and any
// explicit Connection header override.
func KeepAlive(version string, h *flow.Headers) bool {
	def := strings.HasPrefix(version, "HTTP/1.1")
	if conn, ok := h.Get("Connection"); ok {
		switch strings.ToLower(strings.TrimSpace(conn)) {
		case "close":
			return false
		case "keep-alive":
			return true
		}
	}
	return def
}

// NoBodyExpected reports whether a response to this status code / request
// method is defined to never carry a body regardless of headers present,
// per RFC 7230 §3.3.3 (1xx, 204, 304 responses, and any response to HEAD).
func NoBodyExpected(requestMethod string, status int) bool {
	if strings.EqualFold(requestMethod, "HEAD") {
		return true
	}
	if status >= 100 && status < 200 {
		return true
	}
	return status == 204 || status == 304
}
