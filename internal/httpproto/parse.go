package httpproto

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/simoneerrigo/proxad/internal/flow"
)

// ErrMalformed wraps a parse failure, distinguished from an I/O error so
// callers can synthesize the 400/502 responses spec.md §7 requires
// instead of tearing down the flow.
type ErrMalformed struct {
	Reason string
}

func (e *ErrMalformed) Error() string { return "malformed HTTP message: " + e.Reason }

func malformed(format string, args ...any) error {
	return &ErrMalformed{Reason: fmt.Sprintf(format, args...)}
}

// ParseRequest reads one HTTP/1.x request from r. It never consumes bytes
// past the end of the request (body included), so the same *bufio.Reader
// can be reused to parse the next pipelined request in order, per
// spec.md §4.3's "processed strictly in the order received" requirement.
//
// Raw captures the request line and header block verbatim (the portion a
// filter typically needs for inspection/logging); the body is captured
// separately in Body already decoded from any chunked framing, since a
// byte-exact wire reproduction of the original chunk boundaries is not
// observable after decoding and is not required by spec.md §8 (only the
// decomposed URI has a round-trip requirement).
func ParseRequest(r *bufio.Reader) (*flow.HTTPReq, error) {
	var raw bytes.Buffer

	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	raw.WriteString(line)
	raw.WriteString("\r\n")

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, malformed("bad request line %q", line)
	}
	method, target, version := parts[0], parts[1], parts[2]
	if !strings.HasPrefix(version, "HTTP/") {
		return nil, malformed("bad request version %q", version)
	}

	headers, headerBytes, err := readHeaders(r)
	if err != nil {
		return nil, err
	}
	raw.Write(headerBytes)

	uri, err := decomposeURI(target)
	if err != nil {
		return nil, err
	}

	body, err := readBody(r, headers, methodsWithoutBody[strings.ToUpper(method)])
	if err != nil {
		return nil, err
	}

	return &flow.HTTPReq{
		Method:  method,
		URI:     uri,
		Headers: headers,
		Body:    body,
		Version: version,
		Raw:     raw.Bytes(),
	}, nil
}

// ParseResponse reads one HTTP/1.x response from r. requestWasHead lets
// the caller signal a response to a HEAD request, which (like 1xx, 204,
// and 304 responses, detected here from the status line) is defined to
// never carry a body regardless of headers present.
func ParseResponse(r *bufio.Reader, requestWasHead bool) (*flow.HTTPResp, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, malformed("bad status line %q", line)
	}
	version := parts[0]
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, malformed("bad status code %q", parts[1])
	}

	headers, _, err := readHeaders(r)
	if err != nil {
		return nil, err
	}

	noBody := requestWasHead || (status >= 100 && status < 200) || status == 204 || status == 304
	body, err := readBody(r, headers, noBody)
	if err != nil {
		return nil, err
	}

	return &flow.HTTPResp{
		Status:  status,
		Headers: headers,
		Body:    body,
		Version: version,
	}, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readHeaders reads the header block up to and including the blank line
// that terminates it, returning both the parsed headers and the verbatim
// bytes consumed (for Raw capture).
func readHeaders(r *bufio.Reader) (*flow.Headers, []byte, error) {
	h := flow.NewHeaders()
	var raw bytes.Buffer
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, nil, err
		}
		raw.WriteString(line)
		raw.WriteString("\r\n")
		if line == "" {
			return h, raw.Bytes(), nil
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, nil, malformed("bad header line %q", line)
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		h.Add(name, value)
	}
}

// readBody applies spec.md §4.3's priority: chunked > Content-Length >
// zero-for-bodyless > until-close (signaled by the caller passing a
// reader that returns io.EOF at connection close; here represented by a
// missing Content-Length on a noBody==false message, which we treat as
// zero-length since proxad always frames HTTP/1.1 keep-alive connections
// and refuses to speak bodyless-until-close semantics over a pipelined
// connection).
func readBody(r *bufio.Reader, h *flow.Headers, noBody bool) ([]byte, error) {
	if noBody {
		return nil, nil
	}
	if te, ok := h.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		return decodeChunked(r, h)
	}
	if cl, ok := h.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, malformed("bad content-length %q", cl)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return nil, nil
}

// decodeChunked decodes an RFC 7230 §4.1 chunked body, appending any
// trailer fields it reads onto h so they flow through as ordinary headers.
func decodeChunked(r *bufio.Reader, h *flow.Headers) ([]byte, error) {
	var body bytes.Buffer
	for {
		sizeLine, err := readLine(r)
		if err != nil {
			return nil, err
		}
		sizeStr := sizeLine
		if i := strings.IndexByte(sizeLine, ';'); i >= 0 {
			sizeStr = sizeLine[:i] // chunk extensions are discarded, not forwarded
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
		if err != nil || size < 0 {
			return nil, malformed("bad chunk size %q", sizeLine)
		}
		if size == 0 {
			for {
				line, err := readLine(r)
				if err != nil {
					return nil, err
				}
				if line == "" {
					return body.Bytes(), nil
				}
				idx := strings.IndexByte(line, ':')
				if idx < 0 {
					return nil, malformed("bad trailer line %q", line)
				}
				h.Add(strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]))
			}
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, err
		}
		body.Write(chunk)
		if _, err := io.ReadFull(r, make([]byte, 2)); err != nil { // trailing CRLF
			return nil, err
		}
	}
}

// decomposeURI splits a request target into path, query, and parsed
// parameters while preserving the raw form, satisfying spec.md §8's
// round-trip requirement together with SerializeRequest.
func decomposeURI(target string) (flow.URI, error) {
	u := flow.URI{Raw: target, Params: flow.NewOrderedParams()}
	path, query, found := strings.Cut(target, "?")
	u.Path = path
	if found {
		u.Query = query
		pairs := strings.Split(query, "&")
		for _, p := range pairs {
			if p == "" {
				continue
			}
			k, v, hasVal := strings.Cut(p, "=")
			dk, err := url.QueryUnescape(k)
			if err != nil {
				dk = k
			}
			dv := ""
			if hasVal {
				dv, err = url.QueryUnescape(v)
				if err != nil {
					dv = v
				}
			}
			u.Params.Add(dk, dv)
		}
	}
	return u, nil
}
