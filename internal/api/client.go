package api

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/salmonumbrella/apitree/internal/endpoint"
	"github.com/salmonumbrella/apitree/internal/session"
)

const DefaultTimeout = 30 * time.Second

var validate = validator.New()

// Config is the construction config of a Client.
type Config struct {
	// Base is the absolute URL every endpoint path is joined to.
	Base string `validate:"required,url"`
	// Endpoints is the declarative endpoint tree to mirror.
	Endpoints endpoint.Group `validate:"required"`
	// OnInvalidCredential is called once for every 401 envelope, before the
	// call returns. A returned error is surfaced as *InterceptorError.
	OnInvalidCredential func(ctx context.Context, env *Envelope) error
	// DefaultHeaders are sent with every request. Accept: application/json
	// is added when absent.
	DefaultHeaders map[string]string
	// Timeout bounds each network call. Zero means DefaultTimeout.
	Timeout time.Duration `validate:"gte=0"`
	// Session is read on every call for a bearer token. Defaults to an
	// in-memory store.
	Session session.Store
	// HTTP is the transport. Defaults to a client with a cookie jar.
	HTTP *http.Client
	// UserAgent, when set, is sent as User-Agent.
	UserAgent string
	// IdempotencyKeyFunc, when set, supplies an Idempotency-Key header for
	// POST, PUT, PATCH and DELETE requests.
	IdempotencyKeyFunc func() string
	// Observer receives one observation per dispatched request.
	Observer Observer
}

// Observer is notified after every network call. Status is 0 for transport failures.
type Observer interface {
	ObserveRequest(endpoint, method string, status int, duration time.Duration)
}

// Client turns an endpoint tree into callable endpoints.
type Client struct {
	base                string
	headers             http.Header
	timeout             time.Duration
	http                *http.Client
	session             session.Store
	onInvalidCredential func(ctx context.Context, env *Envelope) error
	userAgent           string
	idempotencyKeyFunc  func() string
	observer            Observer

	root   *Group
	issues endpoint.Issues
}

// New validates cfg and builds the generated endpoint tree. Structural
// problems in the tree are not fatal: the offending branches are left out
// and reported by Issues.
func New(cfg Config) (*Client, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, configErrorFrom(err)
	}

	c := &Client{
		base:                cfg.Base,
		headers:             make(http.Header),
		timeout:             cfg.Timeout,
		http:                cfg.HTTP,
		session:             cfg.Session,
		onInvalidCredential: cfg.OnInvalidCredential,
		userAgent:           cfg.UserAgent,
		idempotencyKeyFunc:  cfg.IdempotencyKeyFunc,
		observer:            cfg.Observer,
	}
	if c.timeout == 0 {
		c.timeout = DefaultTimeout
	}
	if c.session == nil {
		c.session = session.NewMemory()
	}
	if c.http == nil {
		c.http = newHTTPClient()
	}
	for k, v := range cfg.DefaultHeaders {
		c.headers.Set(k, v)
	}
	if c.headers.Get("Accept") == "" {
		c.headers.Set("Accept", "application/json")
	}

	tree, issues := endpoint.Validate(cfg.Endpoints)
	for _, issue := range issues {
		slog.Warn("skipping invalid endpoint entry", "path", issue.Path, "reason", issue.Message)
	}
	c.issues = issues
	c.root = &Group{}
	c.mirror(tree, c.root)
	return c, nil
}

func newHTTPClient() *http.Client {
	baseTransport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		baseTransport = &http.Transport{}
	}
	transport := baseTransport.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	} else {
		transport.TLSClientConfig = transport.TLSClientConfig.Clone()
	}
	transport.TLSClientConfig.MinVersion = tls.VersionTLS12

	// cookiejar.New only fails on a bad PublicSuffixList, and we pass none.
	jar, _ := cookiejar.New(nil)
	return &http.Client{Transport: transport, Jar: jar}
}

func configErrorFrom(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigError{Field: "config", Reason: err.Error()}
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return &ConfigError{Field: field, Reason: "is required"}
	case "url":
		return &ConfigError{Field: field, Reason: "must be an absolute URL"}
	case "gte":
		return &ConfigError{Field: field, Reason: "must not be negative"}
	default:
		return &ConfigError{Field: field, Reason: "failed " + fe.Tag() + " validation"}
	}
}

// Endpoints returns the generated tree.
func (c *Client) Endpoints() *Group {
	return c.root
}

// Issues returns the structural warnings found while building the tree.
func (c *Client) Issues() endpoint.Issues {
	return c.issues
}

// Timeout returns the per-call network timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Snapshot returns all session entries.
func (c *Client) Snapshot(ctx context.Context) (map[string]any, error) {
	return c.session.Snapshot(ctx)
}

// StoreSession upserts non-nil entries and deletes keys whose value is nil.
func (c *Client) StoreSession(ctx context.Context, entries map[string]any) error {
	return c.session.Put(ctx, entries)
}

// DisposeSession deletes the named session entries.
func (c *Client) DisposeSession(ctx context.Context, keys ...string) error {
	return c.session.Dispose(ctx, keys...)
}

// ClearSession deletes every session entry.
func (c *Client) ClearSession(ctx context.Context) error {
	return c.session.ClearAll(ctx)
}
