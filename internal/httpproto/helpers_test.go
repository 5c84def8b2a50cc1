package httpproto

import "github.com/simoneerrigo/proxad/internal/flow"

func newEmptyHeaders() *flow.Headers {
	return flow.NewHeaders()
}

func flowHeadersFixture() *flow.Headers {
	h := flow.NewHeaders()
	h.Set("Connection", "X-Custom-Hop, Keep-Alive")
	h.Set("X-Custom-Hop", "1")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Content-Type", "text/plain")
	return h
}
