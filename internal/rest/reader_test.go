// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package rest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/comanda/internal/cache"
	"github.com/tomtom215/comanda/internal/client"
)

// stubExecutor serves canned responses and counts calls.
type stubExecutor struct {
	calls    int
	response json.RawMessage
	err      error
}

func (s *stubExecutor) Execute(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func newTestReader(t *testing.T, exec Executor) *Reader {
	t.Helper()
	c := cache.New(time.Minute)
	t.Cleanup(c.Stop)
	return NewReader(exec, c)
}

func TestMenuFetchesAndCaches(t *testing.T) {
	exec := &stubExecutor{response: json.RawMessage(`[{"id":"m1","name":"Espresso","price":2.5,"available":true}]`)}
	r := newTestReader(t, exec)

	menu, err := r.Menu(context.Background())
	require.NoError(t, err)
	require.Len(t, menu, 1)
	assert.Equal(t, "Espresso", menu[0].Name)

	// Second read is served from cache.
	_, err = r.Menu(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, exec.calls)
}

func TestNetworkFailureServesStale(t *testing.T) {
	exec := &stubExecutor{response: json.RawMessage(`[{"id":"t1","name":"Window 1","seats":4}]`)}
	c := cache.New(time.Minute)
	t.Cleanup(c.Stop)
	r := NewReader(exec, c)

	tables, err := r.Tables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 1)

	// Cache expires, then the backend goes away.
	c.Invalidate("tables")
	c.SetWithTTL("tables", tables, -time.Second)
	exec.err = &client.Error{Message: "connection refused", Code: client.CodeNetworkError, Retryable: true}

	got, err := r.Tables(context.Background())
	require.NoError(t, err, "stale data beats an error while offline")
	assert.Equal(t, tables, got)
}

func TestNonNetworkErrorPropagates(t *testing.T) {
	exec := &stubExecutor{err: &client.Error{Message: "forbidden", HTTPStatus: 403, Code: client.CodeForbidden}}
	r := newTestReader(t, exec)

	_, err := r.OpenOrders(context.Background())
	require.Error(t, err)

	ce, ok := client.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, client.CodeForbidden, ce.Code)
}

func TestNetworkFailureWithoutCacheErrors(t *testing.T) {
	exec := &stubExecutor{err: &client.Error{Message: "offline", Code: client.CodeNetworkError, Retryable: true}}
	r := newTestReader(t, exec)

	_, err := r.ActiveCalls(context.Background())
	require.Error(t, err, "nothing cached yet, the failure surfaces")
}

func TestUnclassifiedErrorNeverServesStale(t *testing.T) {
	exec := &stubExecutor{response: json.RawMessage(`[]`)}
	c := cache.New(time.Minute)
	t.Cleanup(c.Stop)
	r := NewReader(exec, c)

	_, err := r.ActiveCalls(context.Background())
	require.NoError(t, err)

	c.SetWithTTL("calls:active", []struct{}{}, -time.Second)
	exec.err = errors.New("decode failure upstream")

	_, err = r.ActiveCalls(context.Background())
	require.Error(t, err)
}

func TestDecodeErrorSurfaces(t *testing.T) {
	exec := &stubExecutor{response: json.RawMessage(`{"not":"a list"}`)}
	r := newTestReader(t, exec)

	_, err := r.Menu(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestInvalidateHelpers(t *testing.T) {
	exec := &stubExecutor{response: json.RawMessage(`[]`)}
	r := newTestReader(t, exec)

	_, err := r.OpenOrders(context.Background())
	require.NoError(t, err)
	_, err = r.ActiveCalls(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, exec.calls)

	r.InvalidateOrders()
	r.InvalidateCalls()

	_, err = r.OpenOrders(context.Background())
	require.NoError(t, err)
	_, err = r.ActiveCalls(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, exec.calls, "invalidation forces a refetch")
}
