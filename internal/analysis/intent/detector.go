// Package intent holds best-effort text heuristics over the latest user message.
// They are not classifiers: anything ambiguous must fail to match.
package intent

import "regexp"

// Detector reports whether text expresses an intent.
type Detector interface {
	Name() string
	Match(text string) bool
}

// Regexp is a Detector backed by a case-insensitive pattern.
type Regexp struct {
	name    string
	pattern *regexp.Regexp
}

// NewRegexp compiles pattern with the case-insensitive flag.
func NewRegexp(name, pattern string) *Regexp {
	return &Regexp{name: name, pattern: regexp.MustCompile(`(?i)` + pattern)}
}

func (r *Regexp) Name() string { return r.name }

func (r *Regexp) Match(text string) bool {
	return r.pattern.MatchString(text)
}

// Func adapts a plain predicate.
type Func struct {
	Label string
	Fn    func(string) bool
}

func (f Func) Name() string           { return f.Label }
func (f Func) Match(text string) bool { return f.Fn(text) }

var (
	// DocumentRequest matches "create/write/draft/make/update/edit ... document|doc".
	DocumentRequest = NewRegexp("document-request",
		`\b(create|write|draft|make|update|edit)\b[^.?!\n]{0,60}?\b(document|doc)s?\b`)

	// SuggestionRequest matches "suggest/feedback/review ... document|doc".
	SuggestionRequest = NewRegexp("suggestion-request",
		`\b(suggest(ion)?s?|feedback|review)\b[^.?!\n]{0,60}?\b(document|doc)s?\b`)
)
