// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package client

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/comanda/internal/logging"
	"github.com/tomtom215/comanda/internal/metrics"
)

// ErrCircuitOpen is returned when the breaker rejects a request without
// attempting it. It is classified as retryable network-class failure so
// the mutation gateway queues instead of surfacing it to staff.
var ErrCircuitOpen = errors.New("backend circuit open")

// BreakerClient wraps the request executor with a circuit breaker so a
// struggling backend is not hammered by the drain loop. Open-circuit
// rejections classify as NETWORK_ERROR: from the caller's point of view
// the backend is unreachable.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[json.RawMessage]
	name   string
}

// NewBreakerClient wraps an executor with a circuit breaker.
// The breaker opens after a 60% failure rate over at least 10 requests,
// waits 30 seconds before probing, and allows 3 half-open requests.
func NewBreakerClient(c *Client) *BreakerClient {
	cbName := "comanda-backend"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		// Only connectivity-class failures count against the breaker.
		// A 4xx is a definite server answer, not a sign of trouble.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			ce, ok := AsClassified(err)
			return ok && !ce.IsNetworkClass() && ce.Code != CodeServerError
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("from", breakerStateString(from)).
				Str("to", breakerStateString(to)).
				Msg("Backend circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
		},
	})

	return &BreakerClient{client: c, cb: cb, name: cbName}
}

// Execute runs a request through the breaker.
func (b *BreakerClient) Execute(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	return b.run(func() (json.RawMessage, error) {
		return b.client.Execute(ctx, method, path, body)
	})
}

// ExecuteWithKey runs an idempotency-keyed request through the breaker.
func (b *BreakerClient) ExecuteWithKey(ctx context.Context, method, path string, body interface{}, idempotencyKey string) (json.RawMessage, error) {
	return b.run(func() (json.RawMessage, error) {
		return b.client.ExecuteWithKey(ctx, method, path, body, idempotencyKey)
	})
}

// Unwrap returns the underlying executor, for callers that manage
// credentials or callbacks.
func (b *BreakerClient) Unwrap() *Client {
	return b.client
}

func (b *BreakerClient) run(fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			return nil, &Error{
				Message:   ErrCircuitOpen.Error(),
				Code:      CodeNetworkError,
				Retryable: true,
			}
		}
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return result, nil
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
