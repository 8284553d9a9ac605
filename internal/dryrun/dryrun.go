// Package dryrun previews prepared requests instead of sending them.
package dryrun

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

type contextKey string

const dryRunKey contextKey = "dry_run_enabled"

const redacted = "[REDACTED]"

// WithDryRun returns a context with dry-run mode enabled/disabled.
func WithDryRun(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, dryRunKey, enabled)
}

// IsEnabled returns true if dry-run mode is enabled.
func IsEnabled(ctx context.Context) bool {
	if v, ok := ctx.Value(dryRunKey).(bool); ok {
		return v
	}
	return false
}

// Preview describes a request that would have been sent.
type Preview struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     string            `json:"body,omitempty"`
}

// FromRequest builds a preview of req. Credentials are redacted and the
// request body is left unconsumed.
func FromRequest(name string, req *http.Request) (*Preview, error) {
	p := &Preview{
		Endpoint: name,
		Method:   req.Method,
		URL:      req.URL.String(),
		Headers:  make(map[string]string, len(req.Header)),
	}
	for k, vals := range req.Header {
		v := strings.Join(vals, ", ")
		if isSensitive(k) {
			v = redacted
		}
		p.Headers[k] = v
	}

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		defer func() { _ = body.Close() }()
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		p.Body = string(data)
	}
	return p, nil
}

func isSensitive(header string) bool {
	switch http.CanonicalHeaderKey(header) {
	case "Authorization", "Cookie", "Proxy-Authorization":
		return true
	}
	return false
}

// Write outputs the preview to the writer
func (p *Preview) Write(w io.Writer) {
	_, _ = fmt.Fprintf(w, "\n[DRY-RUN] Would call %s\n", p.Endpoint)
	_, _ = fmt.Fprintf(w, "───────────────────────────────────────\n")
	_, _ = fmt.Fprintf(w, "%s %s\n", p.Method, p.URL)

	if len(p.Headers) > 0 {
		keys := make([]string, 0, len(p.Headers))
		for k := range p.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "  %s: %s\n", k, p.Headers[k])
		}
	}
	if p.Body != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", p.Body)
	}

	_, _ = fmt.Fprintf(w, "───────────────────────────────────────\n")
	_, _ = fmt.Fprintln(w, "No request sent (dry-run mode)")
}
