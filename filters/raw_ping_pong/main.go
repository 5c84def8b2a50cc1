// Package main is an example proxad filter module: it answers PING with
// PONG on the wire and counts how many chunks from the client contain
// the string "EVIL", regardless of which flow they arrive on.
//
// Build as a hot-reloadable plugin:
//
//	go build -buildmode=plugin -o raw_ping_pong.so .
//
// Grounded directly on original_source/test/filter.py's
// server_filter_history/client_filter pair — persist.counter's
// sys.modules trick becomes the *flow.Attrs passed into every hook by
// the Host, keyed by this module's filename.
package main

import (
	"bytes"
	"log"

	"github.com/simoneerrigo/proxad/internal/filterhost"
	"github.com/simoneerrigo/proxad/internal/flow"
)

const counterKey = "evil_count"

// ServerRawFilter rewrites PING to PONG in traffic flowing from the
// upstream server back to the client.
func ServerRawFilter(state *flow.Attrs, f *flow.Flow, chunk []byte) filterhost.RawOutput {
	if !bytes.Contains(chunk, []byte("PING")) {
		return filterhost.PassthroughRaw()
	}
	return filterhost.ReplaceRaw(bytes.ReplaceAll(chunk, []byte("PING"), []byte("PONG")))
}

// ClientRawFilter watches traffic from the client for the literal "EVIL"
// and keeps a running count in the module's persistent state, surviving
// hot-reloads of this module.
func ClientRawFilter(state *flow.Attrs, f *flow.Flow, chunk []byte) filterhost.RawOutput {
	if !bytes.Contains(chunk, []byte("EVIL")) {
		return filterhost.PassthroughRaw()
	}

	n := int64(1)
	if v, ok := state.Get(counterKey); ok {
		if cur, isInt := v.AsInt64(); isInt {
			n = cur + 1
		}
	}
	state.Set(counterKey, flow.Int64(n))
	log.Printf("flow %s is evil (number %d)", f.ID(), n)

	return filterhost.PassthroughRaw()
}
