package rewrite

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Rule is an immutable search/replacement pair. The search phrase is matched
// literally, case-insensitively, over all non-overlapping occurrences.
type Rule struct {
	search      string
	replacement string
	expr        *regexp.Regexp
}

// NewRule compiles a rule for the provided phrases.
func NewRule(search, replacement string) (*Rule, error) {
	if strings.TrimSpace(search) == "" {
		return nil, ErrEmptySearch
	}

	expr, err := regexp.Compile("(?i)" + regexp.QuoteMeta(search))
	if err != nil {
		return nil, fmt.Errorf("rewrite: invalid search phrase %q: %w", search, err)
	}
	if expr.MatchString(replacement) {
		return nil, fmt.Errorf("%w: %q", ErrSelfMatching, replacement)
	}

	return &Rule{search: search, replacement: replacement, expr: expr}, nil
}

var (
	defaultRule     *Rule
	defaultRuleOnce sync.Once
)

// Default returns the process-wide rule built from SearchPhrase and ReplacementPhrase.
func Default() *Rule {
	defaultRuleOnce.Do(func() {
		rule, err := NewRule(SearchPhrase, ReplacementPhrase)
		if err != nil {
			panic(err)
		}
		defaultRule = rule
	})
	return defaultRule
}

// Search returns the literal search phrase.
func (r *Rule) Search() string { return r.search }

// Replacement returns the replacement phrase.
func (r *Rule) Replacement() string { return r.replacement }

// Rewrite returns text with every occurrence of the search phrase replaced.
// The input is returned as-is when nothing matches.
func (r *Rule) Rewrite(text string) string {
	if text == "" || !r.expr.MatchString(text) {
		return text
	}
	return r.expr.ReplaceAllLiteralString(text, r.replacement)
}

// Count reports how many occurrences of the search phrase text contains.
func (r *Rule) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(r.expr.FindAllStringIndex(text, -1))
}
