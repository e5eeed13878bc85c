// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/comanda/internal/cache"
	"github.com/tomtom215/comanda/internal/client"
	"github.com/tomtom215/comanda/internal/gateway"
	"github.com/tomtom215/comanda/internal/netmon"
	"github.com/tomtom215/comanda/internal/queue"
	"github.com/tomtom215/comanda/internal/rest"
	syncmgr "github.com/tomtom215/comanda/internal/sync"
)

// localExecutor fakes the backend for both writes and reads.
type localExecutor struct {
	err      error
	response json.RawMessage
	lastPath string
	lastKey  string
}

func (l *localExecutor) ExecuteWithKey(ctx context.Context, method, path string, body interface{}, idempotencyKey string) (json.RawMessage, error) {
	l.lastPath = path
	l.lastKey = idempotencyKey
	if l.err != nil {
		return nil, l.err
	}
	return l.response, nil
}

func (l *localExecutor) Execute(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	return l.ExecuteWithKey(ctx, method, path, body, "")
}

func newLocalServer(t *testing.T) (*Server, *localExecutor, *netmon.Notifier, *queue.Store) {
	t.Helper()
	store, err := queue.Open(queue.Config{Path: t.TempDir(), SyncWrites: false, MaxRetries: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	notifier := netmon.NewNotifier()
	manager := syncmgr.NewManager(store, notifier, syncmgr.Config{
		RetryDelay:   time.Millisecond,
		ItemInterval: time.Millisecond,
	})

	exec := &localExecutor{response: json.RawMessage(`{"id":"x"}`)}
	c := cache.New(time.Minute)
	t.Cleanup(c.Stop)

	api := &LocalAPI{
		Gateway: gateway.New(store, notifier, gateway.DefaultConfig()),
		Exec:    exec,
		Reader:  rest.NewReader(exec, c),
	}
	return NewServer(Config{Addr: "127.0.0.1:0"}, store, manager, notifier, api), exec, notifier, store
}

func postMutation(t *testing.T, s *Server, typ, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mutations/"+typ, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitEndpointOnline(t *testing.T) {
	s, exec, _, _ := newLocalServer(t)

	rec := postMutation(t, s, "create_order", `{"table_id":"t1","items":[{"menu_item_id":"m1","quantity":1}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"x"}`, rec.Body.String())
	assert.Equal(t, "/api/v1/orders", exec.lastPath)
	assert.NotEmpty(t, exec.lastKey, "direct attempts must carry an idempotency key")
}

func TestSubmitEndpointRetriesReplayUnderSameKey(t *testing.T) {
	s, exec, _, store := newLocalServer(t)
	exec.err = &client.Error{Message: "dial tcp: connection refused", Code: client.CodeNetworkError, Retryable: true}

	rec := postMutation(t, s, "create_order", `{"table_id":"t1","items":[{"menu_item_id":"m1","quantity":1}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body struct {
		QueueID string `json:"queue_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	m, err := store.Get(context.Background(), body.QueueID)
	require.NoError(t, err)
	assert.Equal(t, exec.lastKey, m.IdempotencyKey,
		"the replay must reuse the key the backend may already have seen")
}

func TestSubmitEndpointQueuesOffline(t *testing.T) {
	s, _, notifier, store := newLocalServer(t)
	notifier.SetConnected(false)

	rec := postMutation(t, s, "acknowledge_call", `{"call_id":"c1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body struct {
		Queued  bool   `json:"queued"`
		QueueID string `json:"queue_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Queued)

	m, err := store.Get(context.Background(), body.QueueID)
	require.NoError(t, err)
	assert.Equal(t, queue.MutationAcknowledgeCall, m.Type)
}

func TestSubmitEndpointGuardedOffline(t *testing.T) {
	s, _, notifier, _ := newLocalServer(t)
	notifier.SetConnected(false)

	rec := postMutation(t, s, "create_payment", `{"bill_id":"b1","method":"cash","amount":10}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitEndpointInvalidPayload(t *testing.T) {
	s, _, _, _ := newLocalServer(t)

	rec := postMutation(t, s, "create_order", `{"table_id":"t1","items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitEndpointBackendRejection(t *testing.T) {
	s, exec, _, _ := newLocalServer(t)
	exec.err = &client.Error{Message: "item unknown", HTTPStatus: 422, Code: client.CodeClientError}

	rec := postMutation(t, s, "create_order", `{"table_id":"t1","items":[{"menu_item_id":"m1","quantity":1}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "item unknown")
}

func TestReadEndpoints(t *testing.T) {
	s, exec, _, _ := newLocalServer(t)
	exec.response = json.RawMessage(`[{"id":"m1","name":"Espresso","price":2.5,"available":true}]`)

	req := httptest.NewRequest(http.MethodGet, "/menu", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Espresso")
}
