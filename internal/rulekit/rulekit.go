// Package rulekit offers pre-compiled glob and regex matching for filter
// plugin authors. A filter that wants YAML-declared match conditions
// instead of hand-rolled string logic can embed a Matcher in its own
// persisted state and call Match* once per hook invocation.
//
// Patterns are compiled once, at load time, so a per-invocation call only
// runs the precompiled Match/MatchString of each pattern in declaration
// order, with no compilation.
package rulekit

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// PathRule is one glob-matched condition: Pattern is matched against a
// request path or file path, and Tag is returned by MatchPath so a
// filter can tell which rule fired without re-testing each pattern.
type PathRule struct {
	Pattern string
	Tag     string
}

// RegexRule is one regex-matched condition, analogous to PathRule.
type RegexRule struct {
	Pattern string
	Tag     string
}

// Matcher holds compiled glob and regex patterns for a set of declared
// rules. The zero value is not usable; build one with Compile.
type Matcher struct {
	paths   []compiledPath
	regexes []compiledRegex
}

type compiledPath struct {
	g   glob.Glob
	tag string
}

type compiledRegex struct {
	re  *regexp.Regexp
	tag string
}

// Compile builds a Matcher from path globs and regexes, compiling every
// pattern up front. Returns an error naming the first invalid pattern.
func Compile(paths []PathRule, regexes []RegexRule) (*Matcher, error) {
	m := &Matcher{}

	for _, p := range paths {
		g, err := glob.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rulekit: invalid path glob %q: %w", p.Pattern, err)
		}
		m.paths = append(m.paths, compiledPath{g: g, tag: p.Tag})
	}

	for _, r := range regexes {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rulekit: invalid regex %q: %w", r.Pattern, err)
		}
		m.regexes = append(m.regexes, compiledRegex{re: re, tag: r.Tag})
	}

	return m, nil
}

// MatchPath returns the tag of the first compiled glob matching value,
// and true, or "", false if none match. Globs are tried in declaration
// order.
func (m *Matcher) MatchPath(value string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, p := range m.paths {
		if p.g.Match(value) {
			return p.tag, true
		}
	}
	return "", false
}

// MatchRegex returns the tag of the first compiled regex matching value,
// and true, or "", false if none match. Regexes are tried in declaration
// order.
func (m *Matcher) MatchRegex(value string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, r := range m.regexes {
		if r.re.MatchString(value) {
			return r.tag, true
		}
	}
	return "", false
}

// FindAllRegex returns every regex match (not just the first) of the
// first compiled regex whose tag equals tag, or nil if no such regex was
// compiled or it has no matches. Useful for flag-style redaction filters
// that need every occurrence, not just whether one exists.
func (m *Matcher) FindAllRegex(tag string, value string) []string {
	if m == nil {
		return nil
	}
	for _, r := range m.regexes {
		if r.tag == tag {
			return r.re.FindAllString(value, -1)
		}
	}
	return nil
}

// ContainsAnyFold reports whether value contains any of needles as a
// case-insensitive substring — an OR-across-list substring match, usable
// without a Matcher.
func ContainsAnyFold(value string, needles []string) bool {
	lower := strings.ToLower(value)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
