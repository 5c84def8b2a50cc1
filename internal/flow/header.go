package flow

import "strings"

// headerPair preserves the original-case header name alongside its value.
type headerPair struct {
	name  string
	value string
}

// Headers is a case-insensitive header map that preserves the original
// case of each name, per spec.md §9: "a structure that stores an ordered
// list of (original-case name, value) pairs together with a case-folded
// lookup index." Re-serialization (see internal/httpproto) emits names in
// original case when they were not touched by a filter.
type Headers struct {
	order []headerPair
	index map[string]int // folded name -> index into order (last write wins)
}

func NewHeaders() *Headers {
	return &Headers{index: make(map[string]int)}
}

func fold(name string) string { return strings.ToLower(name) }

// Get returns the value for name (case-insensitive), joined per RFC 7230
// if the header occurred multiple times (joined with ", ").
func (h *Headers) Get(name string) (string, bool) {
	i, ok := h.index[fold(name)]
	if !ok {
		return "", false
	}
	return h.order[i].value, true
}

// Set replaces all occurrences of name with a single value, preserving the
// original case of name if it already existed, otherwise using name as
// given.
func (h *Headers) Set(name, value string) {
	folded := fold(name)
	if i, ok := h.index[folded]; ok {
		h.order[i].value = value
		return
	}
	h.order = append(h.order, headerPair{name: name, value: value})
	h.index[folded] = len(h.order) - 1
}

// Add appends an additional occurrence of name without removing existing
// occurrences (used while parsing, so multi-value headers can be joined).
func (h *Headers) Add(name, value string) {
	folded := fold(name)
	if i, ok := h.index[folded]; ok {
		h.order[i].value += ", " + value
		return
	}
	h.order = append(h.order, headerPair{name: name, value: value})
	h.index[folded] = len(h.order) - 1
}

func (h *Headers) Del(name string) {
	folded := fold(name)
	i, ok := h.index[folded]
	if !ok {
		return
	}
	h.order = append(h.order[:i], h.order[i+1:]...)
	delete(h.index, folded)
	for j := i; j < len(h.order); j++ {
		h.index[fold(h.order[j].name)] = j
	}
}

func (h *Headers) Has(name string) bool {
	_, ok := h.index[fold(name)]
	return ok
}

// Items returns the headers in original declaration order, original case.
func (h *Headers) Items() []struct{ Name, Value string } {
	out := make([]struct{ Name, Value string }, len(h.order))
	for i, p := range h.order {
		out[i] = struct{ Name, Value string }{p.name, p.value}
	}
	return out
}

func (h *Headers) Clone() *Headers {
	clone := NewHeaders()
	for _, p := range h.order {
		clone.order = append(clone.order, p)
	}
	for k, v := range h.index {
		clone.index[k] = v
	}
	return clone
}
