// Package httpproto implements the byte-exact HTTP/1.x codec used by the
// HTTP Flow Engine: request/response parsing (including chunked transfer
// encoding and trailers), URI decomposition, and re-serialization.
//
// Grounded on internal/proxy/forwarder.go's hop-by-hop header handling,
// generalized from an http.Client-based forwarder into a codec that reads
// and writes both directions of the wire format directly, since spec.md
// requires byte-exact control net/http's client/server types do not
// expose (original header case, raw re-serialization).
package httpproto

import "strings"

// HopByHopHeaders are connection-specific headers that must not be
// forwarded across a proxy hop, per RFC 7230 §6.1. Grounded verbatim on
// internal/proxy/forwarder.go's hopByHopHeaders set.
var HopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func isHopByHop(name string) bool {
	return HopByHopHeaders[strings.ToLower(name)]
}

// methodsWithoutBody lists methods that conventionally carry no request
// body when neither Content-Length nor Transfer-Encoding is present —
// spec.md §4.3 parsing priority (3).
var methodsWithoutBody = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"DELETE":  true,
	"OPTIONS": true,
	"TRACE":   true,
}
