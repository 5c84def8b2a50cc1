// Package main is an example proxad HTTP filter module: it redacts flags
// leaking in response bodies (every flag when the raw request contains a
// known attack pattern, otherwise only when more than one flag appears),
// tracking a session ID per flow along the way. It never blocks a request.
//
// Build as a hot-reloadable plugin:
//
//	go build -buildmode=plugin -o http_flag_guard.so .
//
// Grounded directly on original_source/test/filter_http.py's
// regex_filter/multiple_flags_filter/replace_flag/find_session_id, with
// pattern compilation delegated to internal/rulekit instead of bare
// re.compile calls scattered across module globals.
package main

import (
	"net/http"
	"strings"

	"github.com/simoneerrigo/proxad/internal/filterhost"
	"github.com/simoneerrigo/proxad/internal/flow"
	"github.com/simoneerrigo/proxad/internal/rulekit"
)

// flagTag's pattern matches CTF-style flags: 31 uppercase/digit
// characters followed by "=", the same shape
// original_source/test/filter_http.py's FLAG_REGEX looked for.
const (
	flagTag = "flag"
	evilTag = "evil_uri"

	flagReplacement = "GRAZIEDARIO"
)

var matcher *rulekit.Matcher

func init() {
	m, err := rulekit.Compile(nil, []rulekit.RegexRule{
		{Pattern: `[A-Z0-9]{31}=`, Tag: flagTag},
		{Pattern: `evilbanana`, Tag: evilTag},
	})
	if err != nil {
		panic(err)
	}
	matcher = m
}

// HTTPFilter is invoked once per request/response pair. It assigns a
// session ID from the "session" cookie (request or response, whichever
// is present) the first time it's seen. If the raw request matches the
// attack regex, or the response body holds more than one flag-shaped
// string, it returns the response with every flag redacted; otherwise the
// pair passes through. Requests are never blocked.
func HTTPFilter(state *flow.Attrs, f *flow.HTTPFlow, req *flow.HTTPReq, resp *flow.HTTPResp) filterhost.HTTPOutput {
	if f.SessionID() == "" {
		if id := sessionIDFrom(req, resp); id != "" {
			f.SetSessionID(id)
		}
	}

	if matcher.FindAllRegex(evilTag, string(req.Raw)) != nil {
		return redactResponse(resp)
	}

	if matches := matcher.FindAllRegex(flagTag, string(resp.Body)); len(matches) > 1 {
		return redactResponse(resp)
	}

	return filterhost.PassthroughHTTP()
}

// redactResponse replaces every flag-shaped match in the response body
// with a harmless placeholder — the non-destructive path
// original_source/test/filter_http.py's replace_flag takes when
// BLOCK_ALL_EVIL is false, which is this module's only behavior.
func redactResponse(resp *flow.HTTPResp) filterhost.HTTPOutput {
	body := string(resp.Body)
	for _, match := range matcher.FindAllRegex(flagTag, body) {
		body = strings.ReplaceAll(body, match, flagReplacement)
	}

	redacted := &flow.HTTPResp{
		Status:  resp.Status,
		Headers: resp.Headers,
		Body:    []byte(body),
		Version: resp.Version,
	}
	return filterhost.ReplaceHTTPResponse(redacted)
}

// sessionIDFrom pulls the "session" cookie value out of whichever side
// carries it: Set-Cookie on the response, or Cookie on the request.
func sessionIDFrom(req *flow.HTTPReq, resp *flow.HTTPResp) string {
	if v, ok := resp.Headers.Get("Set-Cookie"); ok {
		if id := cookieValue(v, "session"); id != "" {
			return id
		}
	}
	if v, ok := req.Headers.Get("Cookie"); ok {
		if id := cookieValue(v, "session"); id != "" {
			return id
		}
	}
	return ""
}

// cookieValue extracts name's value out of a raw Cookie/Set-Cookie
// header value, mirroring http.cookies.SimpleCookie's role in the
// original filter. net/http.Header.Cookies wants a full header map, not
// a bare string, so a throwaway Request carries the value in for parsing.
func cookieValue(header, name string) string {
	req := &http.Request{Header: http.Header{"Cookie": {header}}}
	for _, c := range req.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
