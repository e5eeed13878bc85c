// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package rest is the read path: typed wrappers over the backend's
// query endpoints with a TTL cache in front. When the backend is
// unreachable a stale cached copy is served rather than an error, so
// the floor keeps its menu and table map through an outage.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/comanda/internal/cache"
	"github.com/tomtom215/comanda/internal/client"
	"github.com/tomtom215/comanda/internal/logging"
	"github.com/tomtom215/comanda/internal/models"
)

const (
	menuTTL   = 10 * time.Minute
	tablesTTL = time.Minute
	ordersTTL = 15 * time.Second
	callsTTL  = 5 * time.Second
)

// Executor issues one read request. Both client.Client and
// client.BreakerClient satisfy it.
type Executor interface {
	Execute(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error)
}

// Reader serves backend reads through the cache.
type Reader struct {
	exec  Executor
	cache *cache.Cache
}

// NewReader creates the cached read path.
func NewReader(exec Executor, c *cache.Cache) *Reader {
	return &Reader{exec: exec, cache: c}
}

// Menu returns the current menu.
func (r *Reader) Menu(ctx context.Context) ([]models.MenuItem, error) {
	return fetch[[]models.MenuItem](ctx, r, "menu", "/api/v1/menu", menuTTL)
}

// Tables returns the floor's tables.
func (r *Reader) Tables(ctx context.Context) ([]models.Table, error) {
	return fetch[[]models.Table](ctx, r, "tables", "/api/v1/tables", tablesTTL)
}

// OpenOrders returns orders that are not yet billed.
func (r *Reader) OpenOrders(ctx context.Context) ([]models.Order, error) {
	return fetch[[]models.Order](ctx, r, "orders:open", "/api/v1/orders?status=open", ordersTTL)
}

// ActiveCalls returns unresolved waiter calls.
func (r *Reader) ActiveCalls(ctx context.Context) ([]models.Call, error) {
	return fetch[[]models.Call](ctx, r, "calls:active", "/api/v1/calls?status=active", callsTTL)
}

// InvalidateOrders drops cached order state. The event listener calls
// this when a realtime order notification arrives.
func (r *Reader) InvalidateOrders() {
	r.cache.Invalidate("orders:open")
}

// InvalidateCalls drops cached call state.
func (r *Reader) InvalidateCalls() {
	r.cache.Invalidate("calls:active")
}

// fetch implements the cache-then-backend-then-stale read flow.
func fetch[T any](ctx context.Context, r *Reader, key, path string, ttl time.Duration) (T, error) {
	var zero T

	if cached, ok := r.cache.Get(key); ok {
		if v, ok := cached.(T); ok {
			return v, nil
		}
	}

	raw, err := r.exec.Execute(ctx, http.MethodGet, path, nil)
	if err != nil {
		if ce, ok := client.AsClassified(err); ok && ce.IsNetworkClass() {
			if stale, ok := r.cache.GetStale(key); ok {
				if v, ok := stale.(T); ok {
					logging.Debug().Str("key", key).Msg("Backend unreachable, serving stale cache")
					return v, nil
				}
			}
		}
		return zero, err
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("decode %s response: %w", path, err)
	}

	r.cache.SetWithTTL(key, v, ttl)
	return v, nil
}
