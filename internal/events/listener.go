// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package events maintains the realtime WebSocket feed from the
// ordering backend. Guest calls and kitchen updates arrive here; the
// connection's health doubles as a connectivity hint for the network
// monitor.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/comanda/internal/logging"
	"github.com/tomtom215/comanda/internal/metrics"
	"github.com/tomtom215/comanda/internal/models"
	"github.com/tomtom215/comanda/internal/netmon"
)

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 32 * time.Second
	pingInterval          = 30 * time.Second
	writeTimeout          = 10 * time.Second
	handshakeTimeout      = 10 * time.Second
)

// Config holds listener settings.
type Config struct {
	// URL is the backend event stream, e.g. wss://host/api/v1/events.
	URL string

	// SessionID is forwarded as a query parameter for stream auth.
	SessionID string
}

// Listener holds the WebSocket connection to the backend and fans
// decoded floor events out to a callback. Reconnects with exponential
// backoff (1s doubling to 32s) and resets the delay after any
// successful read.
type Listener struct {
	cfg      Config
	notifier *netmon.Notifier

	conn   *websocket.Conn
	connMu sync.RWMutex

	callbackMu sync.RWMutex
	onEvent    func(models.FloorEvent)

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewListener creates an event listener. notifier may be nil when
// connectivity hints are not wanted.
func NewListener(cfg Config, notifier *netmon.Notifier) *Listener {
	return &Listener{cfg: cfg, notifier: notifier}
}

// OnEvent registers the event callback. Called from the read loop;
// must not block.
func (l *Listener) OnEvent(fn func(models.FloorEvent)) {
	l.callbackMu.Lock()
	defer l.callbackMu.Unlock()
	l.onEvent = fn
}

// Start begins the connect/read/reconnect loop. Idempotent.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.stopChan = make(chan struct{})
	l.mu.Unlock()

	logging.Info().Str("url", l.cfg.URL).Msg("Starting event listener")

	l.wg.Add(1)
	go l.run(ctx)
	return nil
}

// Stop closes the connection and waits for the loops to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopChan)
	l.mu.Unlock()

	l.closeConn()
	l.wg.Wait()
	logging.Info().Msg("Event listener stopped")
}

func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()

	delay := initialReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		default:
		}

		if err := l.connect(ctx); err != nil {
			logging.Warn().Err(err).Dur("retry_in", delay).Msg("Event stream connection failed")
			l.hintReachable(false)

			select {
			case <-ctx.Done():
				return
			case <-l.stopChan:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			metrics.EventReconnects.Inc()
			continue
		}

		l.hintReachable(true)
		delay = initialReconnectDelay

		// Blocks until the connection drops.
		l.readLoop(ctx)
		l.closeConn()
	}
}

func (l *Listener) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	url := l.cfg.URL
	if l.cfg.SessionID != "" {
		url = fmt.Sprintf("%s?session_id=%s", url, l.cfg.SessionID)
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return fmt.Errorf("dial event stream (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial event stream: %w", err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	l.wg.Add(1)
	go l.pingLoop(ctx, conn)

	logging.Info().Msg("Event stream connected")
	return nil
}

func (l *Listener) readLoop(ctx context.Context) {
	l.connMu.RLock()
	conn := l.conn
	l.connMu.RUnlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			logging.Warn().Err(err).Msg("Event stream read failed")
			l.hintReachable(false)
			return
		}

		var ev models.FloorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logging.Warn().Err(err).Msg("Discarding malformed floor event")
			continue
		}

		metrics.EventsReceived.WithLabelValues(ev.Kind).Inc()
		l.hintReachable(true)

		l.callbackMu.RLock()
		fn := l.onEvent
		l.callbackMu.RUnlock()
		if fn != nil {
			fn(ev)
		}
	}
}

// pingLoop keeps the connection alive. Exits when the connection it was
// started for goes away.
func (l *Listener) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer l.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.connMu.RLock()
			current := l.conn
			l.connMu.RUnlock()
			if current != conn {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				logging.Debug().Err(err).Msg("Event stream ping failed")
				return
			}
		}
	}
}

func (l *Listener) closeConn() {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}

func (l *Listener) hintReachable(reachable bool) {
	if l.notifier != nil {
		l.notifier.SetReachable(reachable)
	}
}
