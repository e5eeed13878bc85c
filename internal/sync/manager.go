// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package sync drains the durable mutation queue against the backend.
// The manager owns one delivery handler per mutation type and replays
// queued writes strictly in creation order, one at a time, whenever
// connectivity returns.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/comanda/internal/logging"
	"github.com/tomtom215/comanda/internal/metrics"
	"github.com/tomtom215/comanda/internal/netmon"
	"github.com/tomtom215/comanda/internal/queue"
)

const (
	defaultRetryDelay   = 2 * time.Second
	defaultItemInterval = 500 * time.Millisecond
)

// ErrDrainInProgress is returned when a drain is requested while one is
// already running. Drains are single-flight; the running one covers the
// request.
var ErrDrainInProgress = errors.New("queue drain already in progress")

// Handler delivers one queued mutation to the backend. The full entry
// is passed so handlers can forward its idempotency key.
type Handler func(ctx context.Context, m *queue.Mutation) error

// Config holds drain pacing settings.
type Config struct {
	// RetryDelay is the pause after a failed delivery before the next
	// attempt. Default: 2s.
	RetryDelay time.Duration

	// ItemInterval paces successive deliveries so a long queue does not
	// stampede a backend that just came back. Default: 500ms.
	ItemInterval time.Duration
}

// DefaultConfig returns the standard drain pacing.
func DefaultConfig() Config {
	return Config{RetryDelay: defaultRetryDelay, ItemInterval: defaultItemInterval}
}

// Result summarizes one drain run.
type Result struct {
	// Processed is the number of mutations delivered successfully.
	Processed int `json:"processed"`

	// Failed is the number of failed delivery attempts during the run.
	Failed int `json:"failed"`
}

// Manager replays the mutation queue. It subscribes to the network
// monitor and triggers a drain on every offline-to-online transition,
// plus an eager drain at startup when connectivity is already there.
type Manager struct {
	store   *queue.Store
	monitor netmon.Monitor
	cfg     Config

	handlersMu sync.RWMutex
	handlers   map[queue.MutationType]Handler

	limiter  *rate.Limiter
	draining atomic.Bool

	lastSyncMu sync.RWMutex
	lastSyncAt time.Time

	mu          sync.Mutex
	running     bool
	stopChan    chan struct{}
	kickChan    chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup
}

// NewManager creates a drain manager over the given queue and monitor.
func NewManager(store *queue.Store, monitor netmon.Monitor, cfg Config) *Manager {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.ItemInterval <= 0 {
		cfg.ItemInterval = defaultItemInterval
	}
	return &Manager{
		store:    store,
		monitor:  monitor,
		cfg:      cfg,
		handlers: make(map[queue.MutationType]Handler),
		limiter:  rate.NewLimiter(rate.Every(cfg.ItemInterval), 1),
		kickChan: make(chan struct{}, 1),
	}
}

// RegisterHandler installs the delivery handler for a mutation type.
// Last registration wins.
func (m *Manager) RegisterHandler(typ queue.MutationType, h Handler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers[typ] = h
}

// LastSyncAt returns when the last drain run finished. Zero until the
// first run completes.
func (m *Manager) LastSyncAt() time.Time {
	m.lastSyncMu.RLock()
	defer m.lastSyncMu.RUnlock()
	return m.lastSyncAt
}

// Draining reports whether a drain run is in flight.
func (m *Manager) Draining() bool {
	return m.draining.Load()
}

// Start begins watching connectivity. An online transition or an
// explicit Kick triggers a drain; if the network is already up, one
// runs immediately to clear anything left over from the last session.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.unsubscribe = m.monitor.Subscribe(func(s netmon.State) {
		if s.Online() {
			m.Kick()
		}
	})
	m.mu.Unlock()

	logging.Info().
		Dur("retry_delay", m.cfg.RetryDelay).
		Dur("item_interval", m.cfg.ItemInterval).
		Msg("Starting sync manager")

	if m.monitor.State().Online() {
		m.Kick()
	}

	m.wg.Add(1)
	go m.drainLoop(ctx)
	return nil
}

// Stop unsubscribes from the monitor and waits for the drain loop to
// exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	logging.Info().Msg("Sync manager stopped")
}

// Kick requests a drain run. Non-blocking; coalesces with any request
// already pending.
func (m *Manager) Kick() {
	select {
	case m.kickChan <- struct{}{}:
	default:
	}
}

func (m *Manager) drainLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-m.kickChan:
			if _, err := m.Drain(ctx); err != nil && !errors.Is(err, ErrDrainInProgress) {
				logging.Error().Err(err).Msg("Queue drain failed")
			}
		}
	}
}

// Drain replays eligible mutations in creation order until the queue
// empties, connectivity drops, or ctx is cancelled. Single-flight: a
// concurrent call returns ErrDrainInProgress.
//
// Completed entries are cleared and the last-sync timestamp is updated
// on every exit path, including early exits.
func (m *Manager) Drain(ctx context.Context) (Result, error) {
	var res Result
	if !m.draining.CompareAndSwap(false, true) {
		return res, ErrDrainInProgress
	}
	defer m.draining.Store(false)

	start := time.Now()
	metrics.DrainRuns.Inc()
	defer func() {
		metrics.DrainDuration.Observe(time.Since(start).Seconds())
		if cleared, err := m.store.ClearCompleted(ctx); err == nil && cleared > 0 {
			logging.Debug().Int("cleared", cleared).Msg("Completed mutations cleared")
		}
		m.lastSyncMu.Lock()
		m.lastSyncAt = time.Now().UTC()
		m.lastSyncMu.Unlock()
	}()

	for m.monitor.State().Online() {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		entry, err := m.store.NextPending(ctx)
		if err != nil {
			return res, fmt.Errorf("next pending: %w", err)
		}
		if entry == nil {
			break
		}

		if err := m.limiter.Wait(ctx); err != nil {
			return res, err
		}

		if err := m.deliver(ctx, entry); err != nil {
			res.Failed++
			metrics.DrainItemsProcessed.WithLabelValues("failed").Inc()
			if !m.sleep(ctx, m.cfg.RetryDelay) {
				return res, ctx.Err()
			}
			continue
		}
		res.Processed++
		metrics.DrainItemsProcessed.WithLabelValues("processed").Inc()
	}

	logging.Info().
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("Queue drain finished")
	return res, nil
}

// deliver runs one entry through its handler, recording the outcome.
func (m *Manager) deliver(ctx context.Context, entry *queue.Mutation) error {
	if err := m.store.MarkProcessing(ctx, entry.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	m.handlersMu.RLock()
	h, ok := m.handlers[entry.Type]
	m.handlersMu.RUnlock()
	if !ok {
		err := fmt.Errorf("no handler registered for %s", entry.Type)
		if mErr := m.store.MarkFailed(ctx, entry.ID, err); mErr != nil {
			logging.Error().Err(mErr).Str("mutation_id", entry.ID).Msg("Failed to record delivery failure")
		}
		return err
	}

	if err := h(ctx, entry); err != nil {
		logging.Warn().
			Str("mutation_id", entry.ID).
			Str("type", string(entry.Type)).
			Int("retry_count", entry.RetryCount+1).
			Err(err).
			Msg("Mutation delivery failed")
		if mErr := m.store.MarkFailed(ctx, entry.ID, err); mErr != nil {
			logging.Error().Err(mErr).Str("mutation_id", entry.ID).Msg("Failed to record delivery failure")
		}
		return err
	}

	if err := m.store.MarkCompleted(ctx, entry.ID); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	logging.Info().
		Str("mutation_id", entry.ID).
		Str("type", string(entry.Type)).
		Msg("Mutation delivered")
	return nil
}

// sleep waits for d unless the context is cancelled first.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
