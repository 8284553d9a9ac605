// Package outfmt selects between human and JSON output and applies the
// --query filter to JSON output.
package outfmt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/salmonumbrella/apitree/internal/filter"
)

// Mode represents the output format mode
type Mode int

const (
	// Text is the default human-readable output
	Text Mode = iota
	// JSON outputs structured JSON
	JSON
)

type (
	modeKey  struct{}
	queryKey struct{}
)

// Parse parses an output mode string
func Parse(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return Text, nil
	case "json":
		return JSON, nil
	default:
		return Text, fmt.Errorf("invalid output format: %q (use 'text' or 'json')", s)
	}
}

// String returns the string representation of the mode
func (m Mode) String() string {
	if m == JSON {
		return "json"
	}
	return "text"
}

// WithMode adds the output mode to the context
func WithMode(ctx context.Context, mode Mode) context.Context {
	return context.WithValue(ctx, modeKey{}, mode)
}

// ModeFromContext retrieves the output mode from context
func ModeFromContext(ctx context.Context) Mode {
	if mode, ok := ctx.Value(modeKey{}).(Mode); ok {
		return mode
	}
	return Text
}

// IsJSON reports whether the context selects JSON output.
func IsJSON(ctx context.Context) bool {
	return ModeFromContext(ctx) == JSON
}

// WithQuery adds a jq query to the context
func WithQuery(ctx context.Context, query string) context.Context {
	return context.WithValue(ctx, queryKey{}, query)
}

// GetQuery retrieves the jq query from context
func GetQuery(ctx context.Context) string {
	if q, ok := ctx.Value(queryKey{}).(string); ok {
		return q
	}
	return ""
}

// WriteJSON writes v as indented JSON after applying query.
func WriteJSON(w io.Writer, v any, query string) error {
	if query != "" {
		filtered, err := filter.Apply(v, query)
		if err != nil {
			return err
		}
		v = filtered
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteJSONLine writes v as a single compact JSON line.
func WriteJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
