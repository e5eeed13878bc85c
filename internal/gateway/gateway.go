// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package gateway is the single entry point for write operations. It
// decides, per submission, whether to execute against the backend or to
// park the mutation in the durable queue for a later drain.
//
// The routing rule is deliberately narrow: only connectivity-class
// failures queue. A definite backend answer, even a 4xx or 5xx after
// retries, surfaces to the caller immediately so staff see real
// rejections instead of silently growing a queue of doomed writes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/comanda/internal/client"
	"github.com/tomtom215/comanda/internal/logging"
	"github.com/tomtom215/comanda/internal/models"
	"github.com/tomtom215/comanda/internal/netmon"
	"github.com/tomtom215/comanda/internal/queue"
)

// ErrOfflineGuarded is returned when a guarded mutation type is
// submitted while the backend is unreachable. Guarded types must never
// queue; payments are the canonical case.
var ErrOfflineGuarded = errors.New("operation requires an online connection")

// ErrInvalidPayload is returned when a submission fails validation
// before it executes or queues.
var ErrInvalidPayload = errors.New("invalid mutation payload")

// Executor performs the mutation against the backend, forwarding the
// gateway-minted idempotency key. The gateway supplies it so callers
// keep full control over endpoint and response decoding.
type Executor func(ctx context.Context, idempotencyKey string) (json.RawMessage, error)

// Result reports how a submission was resolved.
type Result struct {
	// Queued is true when the mutation was parked for a later drain.
	Queued bool

	// QueueID identifies the queued entry. Empty unless Queued.
	QueueID string

	// Response is the backend's reply. Nil when Queued.
	Response json.RawMessage
}

// Config holds gateway settings.
type Config struct {
	// OfflineGuarded lists mutation types that must not queue. Defaults
	// to create_payment: money movements need a live confirmation.
	OfflineGuarded []queue.MutationType
}

// DefaultConfig guards payments only.
func DefaultConfig() Config {
	return Config{OfflineGuarded: []queue.MutationType{queue.MutationCreatePayment}}
}

// Gateway routes write submissions between direct execution and the
// durable queue, based on connectivity and failure class.
type Gateway struct {
	store   *queue.Store
	monitor netmon.Monitor
	guarded map[queue.MutationType]struct{}
}

// New creates a gateway over the given queue and connectivity monitor.
func New(store *queue.Store, monitor netmon.Monitor, cfg Config) *Gateway {
	guarded := make(map[queue.MutationType]struct{}, len(cfg.OfflineGuarded))
	for _, t := range cfg.OfflineGuarded {
		guarded[t] = struct{}{}
	}
	return &Gateway{store: store, monitor: monitor, guarded: guarded}
}

// Submit validates, then executes or queues one mutation. One
// idempotency key is minted per submission and shared by the direct
// attempt and any queued replay, so an ambiguous failure (request sent,
// response lost) cannot double-apply on the backend.
//
// Offline: guarded types fail with ErrOfflineGuarded, everything else
// queues without touching the network. Online: exec runs; a
// connectivity-class failure queues the mutation exactly once, any
// other failure propagates unchanged.
func (g *Gateway) Submit(ctx context.Context, typ queue.MutationType, payload json.RawMessage, exec Executor) (*Result, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", queue.ErrUnknownType, typ)
	}
	if err := models.ValidatePayload(typ, payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, typ, err)
	}

	key := uuid.New().String()

	if !g.monitor.State().Online() {
		if g.isGuarded(typ) {
			return nil, fmt.Errorf("%w: %s", ErrOfflineGuarded, typ)
		}
		return g.enqueue(ctx, typ, payload, key)
	}

	resp, err := exec(ctx, key)
	if err == nil {
		return &Result{Response: resp}, nil
	}

	if !isConnectivityFailure(err) {
		return nil, err
	}
	if g.isGuarded(typ) {
		return nil, fmt.Errorf("%w: %s: %w", ErrOfflineGuarded, typ, err)
	}

	logging.Warn().
		Str("type", string(typ)).
		Err(err).
		Msg("Backend unreachable, queueing mutation")
	return g.enqueue(ctx, typ, payload, key)
}

func (g *Gateway) enqueue(ctx context.Context, typ queue.MutationType, payload json.RawMessage, key string) (*Result, error) {
	id, err := g.store.EnqueueWithKey(ctx, typ, payload, key)
	if err != nil {
		return nil, fmt.Errorf("queue %s: %w", typ, err)
	}
	return &Result{Queued: true, QueueID: id}, nil
}

func (g *Gateway) isGuarded(typ queue.MutationType) bool {
	_, ok := g.guarded[typ]
	return ok
}

// isConnectivityFailure decides whether a failure means "backend
// unreachable" rather than "backend said no". Classified errors answer
// structurally; for anything unclassified a conservative message check
// catches raw transport errors from custom executors.
func isConnectivityFailure(err error) bool {
	if ce, ok := client.AsClassified(err); ok {
		return ce.IsNetworkClass()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"network", "timeout", "timed out", "connection", "offline", "unreachable", "no route to host"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
