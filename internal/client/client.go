// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package client implements the request executor: a thin HTTP layer over
// the restaurant backend that injects session headers, classifies every
// failure, and retries transient ones with bounded exponential backoff.
//
// The executor performs no deduplication of its own. Callers issuing
// non-idempotent operations rely on the idempotency key forwarded with
// queued mutations, or on the server, to avoid duplicate creation under
// ambiguous network failures.
package client

import (
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/comanda/internal/logging"
	"github.com/tomtom215/comanda/internal/metrics"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 500 * time.Millisecond

	// maxJitter is the random offset added to each backoff delay to
	// avoid synchronized retry storms across devices.
	maxJitter = 100 * time.Millisecond

	// maxErrorBodySize limits how much of an error response body is read
	// for diagnostics, preventing unbounded allocation.
	maxErrorBodySize = 64 * 1024
)

const headerIdempotencyKey = "X-Idempotency-Key"

// Config holds request executor settings.
type Config struct {
	// BaseURL is the backend root, e.g. "https://pos.example.com/api/v1".
	BaseURL string

	// Timeout is the per-request transport timeout. Default: 30s.
	Timeout time.Duration

	// MaxRetries is the number of automatic retries for transient
	// failures. Default: 3.
	MaxRetries int

	// RetryBaseDelay is the base for exponential backoff. Default: 500ms.
	RetryBaseDelay time.Duration
}

// errorEnvelope is the backend's error response shape.
type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Client executes single HTTP requests against the backend and is the
// only component that holds session credentials. It owns no other state:
// durability and ordering are the mutation queue's concern.
//
// Thread safety: all methods are safe for concurrent use.
type Client struct {
	baseURL        string
	http           *http.Client
	maxRetries     int
	retryBaseDelay time.Duration

	session sessionStore

	cbMu           sync.RWMutex
	onUnauthorized func()
	onForbidden    func(message string)
}

// New creates a request executor for the given backend.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           &http.Client{Timeout: cfg.Timeout},
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
}

// SetCredentials replaces the session credentials wholesale.
// Pass nil to clear them (logout).
func (c *Client) SetCredentials(creds *Credentials) {
	c.session.set(creds)
}

// Credentials returns the current session credentials, or nil when
// unauthenticated.
func (c *Client) Credentials() *Credentials {
	return c.session.get()
}

// OnUnauthorized registers a callback fired when the backend returns 401.
// The executor clears its credentials before invoking it.
func (c *Client) OnUnauthorized(fn func()) {
	c.cbMu.Lock()
	c.onUnauthorized = fn
	c.cbMu.Unlock()
}

// OnForbidden registers a callback fired with the server message when the
// backend returns 403. Credentials are left untouched.
func (c *Client) OnForbidden(fn func(message string)) {
	c.cbMu.Lock()
	c.onForbidden = fn
	c.cbMu.Unlock()
}

// Execute performs one logical request: method and path against the
// configured base URL, body marshaled as JSON when non-nil. Transient
// failures are retried with exponential backoff and jitter; the final
// failure is always a classified *Error.
func (c *Client) Execute(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	return c.do(ctx, method, path, body, "")
}

// ExecuteWithKey is Execute with a client-generated idempotency key
// forwarded to the backend, used for create-type mutations replayed from
// the queue so an ambiguous earlier attempt cannot cause duplication.
func (c *Client) ExecuteWithKey(ctx context.Context, method, path string, body interface{}, idempotencyKey string) (json.RawMessage, error) {
	return c.do(ctx, method, path, body, idempotencyKey)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, idempotencyKey string) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &Error{
				Message: "marshal request body: " + err.Error(),
				Code:    CodeUnknown,
			}
		}
	}

	var lastErr *Error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, classifyTransport(err)
		}

		result, cerr := c.attempt(ctx, method, path, payload, idempotencyKey)
		if cerr == nil {
			metrics.RequestsTotal.WithLabelValues(method, "success").Inc()
			return result, nil
		}
		lastErr = cerr

		if !cerr.Retryable || attempt >= c.maxRetries {
			break
		}

		metrics.RequestRetries.Inc()
		logging.Debug().
			Str("method", method).
			Str("path", path).
			Str("code", string(cerr.Code)).
			Int("attempt", attempt+1).
			Msg("Retrying transient request failure")

		select {
		case <-time.After(c.backoffDelay(attempt)):
		case <-ctx.Done():
			return nil, classifyTransport(ctx.Err())
		}
	}

	metrics.RequestsTotal.WithLabelValues(method, string(lastErr.Code)).Inc()
	return nil, lastErr
}

// attempt performs a single HTTP round trip and classifies any failure.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, idempotencyKey string) (json.RawMessage, *Error) {
	var bodyReader io.Reader = http.NoBody
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &Error{Message: "build request: " + err.Error(), Code: CodeUnknown}
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyKey)
	}

	// Snapshot the credentials once so a concurrent replace cannot mix
	// fields from two sessions within one request.
	creds := c.session.get()
	if creds != nil {
		if creds.SessionID != "" {
			req.Header.Set(headerSessionID, creds.SessionID)
		}
		req.Header.Set(headerDeviceID, creds.DeviceID)
		req.Header.Set(headerDeviceType, creds.DeviceType)
		req.Header.Set(headerPlatform, creds.Platform)
		if creds.DeviceName != "" {
			req.Header.Set(headerDeviceName, creds.DeviceName)
		}
		if creds.AppVersion != "" {
			req.Header.Set(headerAppVersion, creds.AppVersion)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Success payloads are returned whole; menu and order listings
		// can run well past any fixed diagnostic cap.
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, classifyTransport(err)
		}
		if len(raw) == 0 {
			return nil, nil
		}
		return json.RawMessage(raw), nil
	}

	// Error bodies feed only the diagnostic message; cap them so a
	// misbehaving backend cannot force unbounded allocation.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return nil, classifyTransport(err)
	}

	cerr := classifyStatus(resp.StatusCode, serverMessage(raw, resp.StatusCode))

	switch cerr.Code {
	case CodeUnauthorized:
		// The session is dead. Clear credentials before notifying so the
		// callback observes the unauthenticated state.
		cleared := c.session.clearIfCurrent(creds)
		logging.Warn().Bool("credentials_cleared", cleared).Msg("Session rejected by backend (401)")
		c.fireUnauthorized()
	case CodeForbidden:
		c.fireForbidden(cerr.Message)
	}

	return nil, cerr
}

// serverMessage extracts the message from the backend error envelope,
// falling back to the raw body or the status text.
func serverMessage(raw []byte, status int) string {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		return env.Message
	}
	if trimmed := strings.TrimSpace(string(raw)); trimmed != "" {
		return trimmed
	}
	return http.StatusText(status)
}

// backoffDelay computes baseDelay * 2^attempt plus up to 100ms of jitter.
func (c *Client) backoffDelay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30 // avoid shift overflow; delays this long never occur in practice
	}
	return c.retryBaseDelay*time.Duration(1<<uint(attempt)) + rand.N(maxJitter)
}

func (c *Client) fireUnauthorized() {
	c.cbMu.RLock()
	fn := c.onUnauthorized
	c.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) fireForbidden(message string) {
	c.cbMu.RLock()
	fn := c.onForbidden
	c.cbMu.RUnlock()
	if fn != nil {
		fn(message)
	}
}
