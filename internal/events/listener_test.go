// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/comanda/internal/models"
	"github.com/tomtom215/comanda/internal/netmon"
)

var upgrader = websocket.Upgrader{}

// wsServer upgrades connections and pushes canned events.
type wsServer struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
	seen  []string // session_id query values
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		ws.conns = append(ws.conns, conn)
		ws.seen = append(ws.seen, r.URL.Query().Get("session_id"))
		ws.mu.Unlock()
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsServer) send(t *testing.T, payload string) {
	t.Helper()
	ws.mu.Lock()
	defer ws.mu.Unlock()
	require.NotEmpty(t, ws.conns)
	conn := ws.conns[len(ws.conns)-1]
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func (ws *wsServer) dropAll() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, c := range ws.conns {
		_ = c.Close()
	}
}

func (ws *wsServer) connCount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.conns)
}

func TestListenerReceivesEvents(t *testing.T) {
	ws := newWSServer(t)

	l := NewListener(Config{URL: ws.url(), SessionID: "sess-1"}, nil)

	var mu sync.Mutex
	var got []models.FloorEvent
	l.OnEvent(func(ev models.FloorEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.Eventually(t, func() bool { return ws.connCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ws.send(t, `{"kind":"call_created","table_id":"t4","timestamp":"2026-08-23T12:00:00Z"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "call_created", got[0].Kind)
	assert.Equal(t, "t4", got[0].TableID)
}

func TestListenerForwardsSessionID(t *testing.T) {
	ws := newWSServer(t)

	l := NewListener(Config{URL: ws.url(), SessionID: "sess-42"}, nil)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.Eventually(t, func() bool { return ws.connCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ws.mu.Lock()
	defer ws.mu.Unlock()
	assert.Equal(t, "sess-42", ws.seen[0])
}

func TestListenerReconnectsAfterDrop(t *testing.T) {
	ws := newWSServer(t)

	l := NewListener(Config{URL: ws.url()}, nil)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.Eventually(t, func() bool { return ws.connCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ws.dropAll()

	// Backoff starts at one second, so allow a few.
	require.Eventually(t, func() bool { return ws.connCount() >= 2 }, 5*time.Second, 50*time.Millisecond)
}

func TestListenerMalformedEventSkipped(t *testing.T) {
	ws := newWSServer(t)

	l := NewListener(Config{URL: ws.url()}, nil)

	var mu sync.Mutex
	var got []models.FloorEvent
	l.OnEvent(func(ev models.FloorEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.Eventually(t, func() bool { return ws.connCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ws.send(t, `not json`)
	ws.send(t, `{"kind":"order_ready"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "order_ready", got[0].Kind)
}

func TestListenerFeedsConnectivityHints(t *testing.T) {
	// Nothing listens on this address: every dial fails.
	notifier := netmon.NewNotifier()
	l := NewListener(Config{URL: "ws://127.0.0.1:1/events"}, notifier)
	require.True(t, notifier.Online())

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.Eventually(t, func() bool { return !notifier.Online() }, 2*time.Second, 10*time.Millisecond,
		"failed dials mark the backend unreachable")
}

func TestListenerStartStopIdempotent(t *testing.T) {
	ws := newWSServer(t)
	l := NewListener(Config{URL: ws.url()}, nil)

	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Start(context.Background()))
	l.Stop()
	l.Stop()
}
