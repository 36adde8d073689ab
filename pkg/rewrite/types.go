// Package rewrite holds the phrase rule applied to every eligible text unit.
package rewrite

import "errors"

// Build-time phrases. They are not runtime configurable.
const (
	SearchPhrase      = "Gulf of America"
	ReplacementPhrase = "Gulf of Mexico"
)

var (
	// ErrEmptySearch indicates a rule was requested without a search phrase.
	ErrEmptySearch = errors.New("rewrite: search phrase is required")
	// ErrSelfMatching indicates the replacement would match the search pattern again.
	ErrSelfMatching = errors.New("rewrite: replacement matches the search phrase")
)
