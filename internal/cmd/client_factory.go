package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/salmonumbrella/apitree/internal/api"
	"github.com/salmonumbrella/apitree/internal/config"
	"github.com/salmonumbrella/apitree/internal/endpoint"
	"github.com/salmonumbrella/apitree/internal/metrics"
	"github.com/salmonumbrella/apitree/internal/session"
)

const metricsNamespace = "apitree"

type clientFactory struct {
	settings config.Settings
}

func newClientFactory(ctx context.Context) *clientFactory {
	return &clientFactory{settings: settingsFrom(ctx)}
}

// manifest loads the endpoint manifest and logs its structural issues.
func (f *clientFactory) manifest() (*endpoint.Manifest, endpoint.Issues, error) {
	path := strings.TrimSpace(f.settings.Endpoints)
	if path == "" {
		return nil, nil, fmt.Errorf("--endpoints is required")
	}
	m, issues, err := endpoint.LoadManifest(path)
	if err != nil {
		return nil, nil, err
	}
	for _, issue := range issues {
		slog.Warn("manifest issue", "path", issue.Path, "reason", issue.Message)
	}
	return m, issues, nil
}

// store opens the configured session store. The returned close function is never nil.
func (f *clientFactory) store(ctx context.Context) (session.Store, func() error, error) {
	return config.OpenStore(ctx, f.settings)
}

// client builds an api.Client from the manifest, the settings and the
// global flags. The close function releases the session store and writes
// --metrics-file.
func (f *clientFactory) client(ctx context.Context) (*api.Client, func() error, error) {
	m, _, err := f.manifest()
	if err != nil {
		return nil, nil, err
	}
	headers, err := parseHeaders(flags.Headers)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := f.store(ctx)
	if err != nil {
		return nil, nil, err
	}

	var registry *prometheus.Registry
	if flags.MetricsFile != "" {
		registry = prometheus.NewRegistry()
	}
	cfg := api.Config{
		Base:                firstNonEmpty(f.settings.BaseURL, m.Base),
		Endpoints:           m.Endpoints,
		DefaultHeaders:      mergeHeaders(m.Headers, headers),
		Timeout:             f.settings.Timeout,
		Session:             store,
		UserAgent:           "apitree/" + version,
		IdempotencyKeyFunc:  idempotencyKeyFunc(flags.IdempotencyKey),
		OnInvalidCredential: invalidCredentialHandler(store, flags.DropTokenOn401),
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = m.Timeout
	}
	if registry != nil {
		cfg.Observer = metrics.NewRequestMetrics(registry, metricsNamespace)
	}

	client, err := api.New(cfg)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}

	closeFn := func() error {
		var errs error
		if registry != nil {
			if err := prometheus.WriteToTextfile(flags.MetricsFile, registry); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("failed to write metrics: %w", err))
			}
		}
		return multierr.Append(errs, closeStore())
	}
	return client, closeFn, nil
}

func idempotencyKeyFunc(value string) func() string {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return nil
	case strings.EqualFold(value, "auto"):
		return uuid.NewString
	default:
		return func() string { return value }
	}
}

// invalidCredentialHandler logs every 401 and, when drop is set, removes
// the stored bearer token so later calls go out unauthenticated.
func invalidCredentialHandler(store session.Store, drop bool) func(context.Context, *api.Envelope) error {
	return func(ctx context.Context, env *api.Envelope) error {
		slog.Warn("credential rejected", "status", env.Status, "message", env.Message())
		if !drop {
			return nil
		}
		return store.Dispose(ctx, session.TokenKeys...)
	}
}

func mergeHeaders(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
