// Package filter decides which text units may be rewritten.
package filter

import (
	"sort"
	"strings"
)

// ExclusionSet is an immutable set of element tags whose text is never rewritten.
type ExclusionSet struct {
	tags map[string]struct{}
}

// defaultExcludedTags covers scripting, styling, code, embedded media and math
// containers. pre is intentionally absent so formatted prose is rewritten.
var defaultExcludedTags = []string{
	"script", "style", "noscript", "template", "textarea",
	"code", "kbd", "samp", "var",
	"iframe", "object", "embed", "video", "audio", "canvas",
	"svg", "math",
}

// NewExclusionSet builds a set from tags, normalised to lower case.
func NewExclusionSet(tags ...string) ExclusionSet {
	set := ExclusionSet{tags: make(map[string]struct{}, len(tags))}
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		set.tags[tag] = struct{}{}
	}
	return set
}

// DefaultExclusions returns the build-time exclusion set.
func DefaultExclusions() ExclusionSet {
	return NewExclusionSet(defaultExcludedTags...)
}

// Contains reports whether tag is excluded, ignoring case.
func (s ExclusionSet) Contains(tag string) bool {
	if len(s.tags) == 0 {
		return false
	}
	_, ok := s.tags[strings.ToLower(tag)]
	return ok
}

// Len returns the number of excluded tags.
func (s ExclusionSet) Len() int { return len(s.tags) }

// Tags returns the excluded tags in sorted order.
func (s ExclusionSet) Tags() []string {
	out := make([]string, 0, len(s.tags))
	for tag := range s.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
