// Package resolve matches user input against dotted endpoint names.
package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Match is a fuzzy match result with score.
type Match struct {
	Name  string
	Score int
}

var (
	ErrEmptyQuery = errors.New("empty endpoint name")
	ErrEmptyNames = errors.New("no endpoints to match against")
)

// AmbiguousError indicates multiple endpoints matched equally well.
type AmbiguousError struct {
	Query   string
	Matches []Match
}

func (e *AmbiguousError) Error() string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "ambiguous endpoint %q, candidates:", e.Query)
	for _, m := range e.Matches {
		_, _ = fmt.Fprintf(&b, "\n  %s", m.Name)
	}
	return b.String()
}

// NotFoundError means no endpoint is named query. Suggestion, when set,
// is the closest existing name.
type NotFoundError struct {
	Query      string
	Suggestion string
}

func (e *NotFoundError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown endpoint %q, did you mean %q?", e.Query, e.Suggestion)
	}
	return fmt.Sprintf("unknown endpoint %q", e.Query)
}

type lowerSource []string

func (s lowerSource) String(i int) string { return strings.ToLower(s[i]) }
func (s lowerSource) Len() int            { return len(s) }

// Endpoint resolves query to one of names.
//
// An exact case-insensitive match always wins. Otherwise the single best
// fuzzy match is returned; a tie on the top score is *AmbiguousError.
func Endpoint(query string, names []string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}
	if len(names) == 0 {
		return "", ErrEmptyNames
	}

	for _, name := range names {
		if strings.EqualFold(name, query) {
			return name, nil
		}
	}

	results := fuzzy.FindFrom(strings.ToLower(query), lowerSource(names))
	if len(results) == 0 {
		return "", &NotFoundError{Query: query}
	}
	if len(results) > 1 && results[0].Score == results[1].Score {
		return "", &AmbiguousError{Query: query, Matches: buildMatches(names, results, 5)}
	}
	return names[results[0].Index], nil
}

// Suggest returns up to limit names ranked best first.
func Suggest(query string, names []string, limit int) []Match {
	query = strings.TrimSpace(query)
	if query == "" || len(names) == 0 || limit <= 0 {
		return nil
	}
	return buildMatches(names, fuzzy.FindFrom(strings.ToLower(query), lowerSource(names)), limit)
}

func buildMatches(names []string, results fuzzy.Matches, limit int) []Match {
	if len(results) == 0 {
		return nil
	}
	if len(results) > limit {
		results = results[:limit]
	}
	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{Name: names[r.Index], Score: r.Score}
	}
	return matches
}
