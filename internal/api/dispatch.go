package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/salmonumbrella/apitree/internal/debug"
	"github.com/salmonumbrella/apitree/internal/session"
)

// Do performs the request described by req. It never retries and never
// caches: every call is exactly one network round trip.
func (e *Endpoint) Do(ctx context.Context, req Request) (*Envelope, error) {
	c := e.client

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := e.prepare(callCtx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	env := c.send(callCtx, ctx, httpReq)
	duration := time.Since(start)

	if debug.IsEnabled(ctx) {
		slog.Debug("request complete", "endpoint", e.Name(), "method", httpReq.Method, "url", httpReq.URL.String(), "status", env.Status, "duration", duration)
	}
	if c.observer != nil {
		c.observer.ObserveRequest(e.Name(), e.def.Method, env.Status, duration)
	}

	if env.Status == http.StatusUnauthorized && c.onInvalidCredential != nil {
		if err := c.onInvalidCredential(ctx, env); err != nil {
			return env, &InterceptorError{Err: err}
		}
	}
	return env, nil
}

// prepare runs the argument, URL, payload and header stages.
func (e *Endpoint) prepare(ctx context.Context, req Request) (*http.Request, error) {
	c := e.client

	rawURL, err := buildURL(c.base, e.def.Path, req.PathParams)
	if err != nil {
		return nil, err
	}
	encoded, err := encodePayload(e.def, req.Payload)
	if err != nil {
		return nil, err
	}
	rawURL = appendQuery(rawURL, encoded.query)

	var body io.Reader
	if encoded.hasBody() {
		body = bytes.NewReader(encoded.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, e.def.Method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vals := range c.headers {
		httpReq.Header[k] = append([]string(nil), vals...)
	}
	if encoded.contentType != "" {
		httpReq.Header.Set("Content-Type", encoded.contentType)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if c.idempotencyKeyFunc != nil && e.def.Method != http.MethodGet {
		if key := c.idempotencyKeyFunc(); key != "" {
			httpReq.Header.Set("Idempotency-Key", key)
		}
	}
	c.injectToken(ctx, httpReq)
	return httpReq, nil
}

// injectToken reads a fresh session snapshot and sets the bearer token.
// A failing store is logged and the request goes out unauthenticated.
func (c *Client) injectToken(ctx context.Context, req *http.Request) {
	snap, err := c.session.Snapshot(ctx)
	if err != nil {
		slog.Warn("session snapshot failed, sending request without token", "error", err)
		return
	}
	if token, ok := session.BearerToken(snap); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// send performs the network call and normalizes the outcome. callCtx
// carries the configured timeout; parent is the caller's context, used to
// tell our deadline apart from a caller cancellation.
func (c *Client) send(callCtx, parent context.Context, req *http.Request) *Envelope {
	resp, err := c.http.Do(req)
	if err != nil {
		return c.failureEnvelope(callCtx, parent, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.failureEnvelope(callCtx, parent, err)
	}
	return normalize(resp.StatusCode, resp.Header, body)
}

func (c *Client) failureEnvelope(callCtx, parent context.Context, err error) *Envelope {
	timeout := isTimeout(callCtx, parent, err)
	msg := err.Error()
	if timeout {
		msg = TimeoutMessage
	} else {
		// Prefer the transport's own message over the url.Error wrapper.
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Err != nil {
			msg = urlErr.Err.Error()
		}
	}
	return &Envelope{
		Response: map[string]any{
			"message":      msg,
			"errorDetails": err.Error(),
		},
		Err: &TransportError{Timeout: timeout, Err: err},
	}
}

func isTimeout(callCtx, parent context.Context, err error) bool {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout() && parent.Err() == nil
}
