// Package mockserver serves every leaf of an endpoint tree as an echo
// handler, so generated clients can be exercised without a real backend.
package mockserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/salmonumbrella/apitree/internal/endpoint"
)

// StatusHeader lets a caller pick the status code of a mock response.
const StatusHeader = "X-Mock-Status"

// MetricsPath is the route of the Prometheus handler.
const MetricsPath = "/_mock/metrics"

const maxMultipartMemory = 32 << 20

var placeholderRe = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// Options configures New.
type Options struct {
	// Prefix is mounted before every endpoint path, e.g. "/api".
	Prefix string
	// Registry receives the hit counter. A fresh registry is used when nil.
	Registry *prometheus.Registry
}

// Echo is the JSON body returned for every matched endpoint.
type Echo struct {
	Endpoint string              `json:"endpoint"`
	Method   string              `json:"method"`
	Path     string              `json:"path"`
	Params   map[string]string   `json:"params,omitempty"`
	Query    map[string][]string `json:"query,omitempty"`
	Body     any                 `json:"body,omitempty"`
	Form     map[string][]string `json:"form,omitempty"`
	Files    map[string]FileInfo `json:"files,omitempty"`
	Auth     string              `json:"authorization,omitempty"`
}

// FileInfo describes an uploaded multipart file.
type FileInfo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type server struct {
	hits *prometheus.CounterVec
}

// New builds the router for tree. Invalid entries are skipped the same way
// api.New skips them.
func New(tree endpoint.Group, opts Options) http.Handler {
	tree, _ = endpoint.Validate(tree)
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &server{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apitree_mock",
			Name:      "hits_total",
			Help:      "Requests served by the mock server.",
		}, []string{"endpoint", "status"}),
	}
	reg.MustRegister(s.hits)

	r := chi.NewRouter()
	r.Handle(MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	prefix := "/" + strings.Trim(opts.Prefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	for _, leaf := range endpoint.Leaves(tree) {
		pattern := prefix + RoutePattern(leaf.Path)
		slog.Debug("mock route", "endpoint", leaf.DottedName(), "method", leaf.Method, "pattern", pattern)
		r.Method(leaf.Method, pattern, s.echo(leaf))
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"message": fmt.Sprintf("no endpoint for %s %s", req.Method, req.URL.Path)},
		})
	})
	return r
}

// RoutePattern converts a ":name" path template into a chi pattern.
// Repeated names get a numeric suffix since chi rejects duplicate keys.
func RoutePattern(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	seen := map[string]int{}
	return placeholderRe.ReplaceAllStringFunc(path, func(m string) string {
		name := m[1:]
		seen[name]++
		if n := seen[name]; n > 1 {
			name = name + "_" + strconv.Itoa(n)
		}
		return "{" + name + "}"
	})
}

func (s *server) echo(leaf endpoint.Leaf) http.HandlerFunc {
	names := leaf.Placeholders()
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		if raw := r.Header.Get(StatusHeader); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 200 && n <= 599 {
				status = n
			}
		}
		s.hits.WithLabelValues(leaf.DottedName(), strconv.Itoa(status)).Inc()

		if status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}

		out := Echo{
			Endpoint: leaf.DottedName(),
			Method:   r.Method,
			Path:     r.URL.Path,
			Auth:     r.Header.Get("Authorization"),
		}
		if len(names) > 0 {
			out.Params = make(map[string]string, len(names))
			for _, name := range names {
				out.Params[name] = chi.URLParam(r, name)
			}
		}
		if q := r.URL.Query(); len(q) > 0 {
			out.Query = q
		}
		if err := readBody(r, &out); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}
		writeJSON(w, status, out)
	}
}

func readBody(r *http.Request, out *Echo) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return fmt.Errorf("invalid multipart body: %w", err)
		}
		if len(r.MultipartForm.Value) > 0 {
			out.Form = r.MultipartForm.Value
		}
		if len(r.MultipartForm.File) > 0 {
			out.Files = make(map[string]FileInfo, len(r.MultipartForm.File))
			for name, headers := range r.MultipartForm.File {
				h := headers[0]
				out.Files[name] = FileInfo{Filename: h.Filename, ContentType: h.Header.Get("Content-Type"), Size: h.Size}
			}
		}
		return nil
	case r.Body == nil:
		return nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if mediaType == "application/json" {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("invalid JSON body: %w", err)
		}
		out.Body = v
		return nil
	}
	out.Body = string(data)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write mock response", "error", err)
	}
}
