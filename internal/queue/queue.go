// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package queue provides the durable mutation queue: an ordered,
// BadgerDB-backed list of write intents that could not be executed
// immediately. Every mutating operation commits a badger transaction
// (fsync when SyncWrites is on) before returning, so a crash between
// operations loses at most the in-flight item's last state transition,
// never the item itself.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/comanda/internal/logging"
	"github.com/tomtom215/comanda/internal/metrics"
)

const (
	// prefixMutation namespaces mutation entries. Fixed-width IDs make
	// badger's lexical key order equal creation order.
	prefixMutation = "mut:"

	// seqKey is the badger sequence backing ID generation.
	seqKey = "sys:seq"

	// seqBandwidth is the sequence lease size. Restarts may skip numbers
	// inside an unused lease; IDs stay strictly monotonic.
	seqBandwidth = 64

	defaultMaxRetries = 3
)

// Errors
var (
	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("mutation queue is closed")

	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errors.New("mutation not found")

	// ErrAlreadyProcessing is returned when MarkProcessing is called
	// while another entry is being processed.
	ErrAlreadyProcessing = errors.New("another mutation is already processing")

	// ErrInvalidTransition is returned for a state change the entry
	// lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid mutation state transition")

	// ErrUnknownType is returned when enqueueing an unknown mutation type.
	ErrUnknownType = errors.New("unknown mutation type")
)

// Config holds mutation queue settings.
type Config struct {
	// Path is the directory for BadgerDB storage.
	Path string

	// SyncWrites forces fsync on every commit. Default true; disable
	// only in tests.
	SyncWrites bool

	// MaxRetries is the per-entry delivery attempt bound. Default: 3.
	MaxRetries int
}

// DefaultConfig returns queue settings that prioritize durability.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		MaxRetries: defaultMaxRetries,
	}
}

// Store is the durable mutation queue. It is the single source of truth
// for work not yet durably accepted by the backend.
//
// Concurrency: the gateway appends and the sync manager drains. All
// operations serialize through badger transactions plus a store mutex
// that enforces the single-processing invariant.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	cfg Config

	mu           sync.Mutex
	processingID string
	closed       bool
}

// Open creates or reopens the queue at cfg.Path. Entries left in the
// processing state by a crash are reverted to pending (their retry count
// untouched) so no intent is lost.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("queue path is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open ID sequence: %w", err)
	}

	s := &Store{db: db, seq: seq, cfg: cfg}

	recovered, err := s.recoverProcessing()
	if err != nil {
		_ = seq.Release()
		_ = db.Close()
		return nil, fmt.Errorf("recover in-flight entries: %w", err)
	}
	if recovered > 0 {
		logging.Warn().Int("recovered", recovered).Msg("Reverted in-flight mutations to pending after restart")
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Int("max_retries", cfg.MaxRetries).
		Msg("Mutation queue opened")

	s.publishGauges()
	return s, nil
}

// recoverProcessing reverts processing entries to pending. A crash mid
// drain leaves at most one, but the scan tolerates any number.
func (s *Store) recoverProcessing() (int, error) {
	recovered := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		// Collect first, write after the iterator closes.
		var stuck []*Mutation
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		prefix := []byte(prefixMutation)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m Mutation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Skipping malformed queue entry")
				continue
			}
			if m.Status == StatusProcessing {
				stuck = append(stuck, &m)
			}
		}
		it.Close()

		for _, m := range stuck {
			m.Status = StatusPending
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("marshal entry: %w", err)
			}
			if err := txn.Set(mutationKey(m.ID), data); err != nil {
				return fmt.Errorf("set entry: %w", err)
			}
			recovered++
		}
		return nil
	})
	return recovered, err
}

// Enqueue appends a pending mutation and persists it before returning.
// The returned ID is opaque and creation-ordered. A fresh idempotency
// key is minted; callers whose mutation already carried a key through a
// failed direct attempt must use EnqueueWithKey instead.
func (s *Store) Enqueue(ctx context.Context, typ MutationType, payload json.RawMessage) (string, error) {
	return s.EnqueueWithKey(ctx, typ, payload, uuid.New().String())
}

// EnqueueWithKey is Enqueue with a caller-supplied idempotency key. The
// key is stored with the entry and replayed on every delivery attempt,
// so a mutation whose direct attempt failed ambiguously (request sent,
// response lost) keeps the key the backend may already have seen.
func (s *Store) EnqueueWithKey(ctx context.Context, typ MutationType, payload json.RawMessage, idempotencyKey string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if !typ.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if idempotencyKey == "" {
		return "", fmt.Errorf("idempotency key must not be empty")
	}

	n, err := s.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}
	id := fmt.Sprintf("%016d", n)

	m := Mutation{
		ID:             id,
		Type:           typ,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
		Status:         StatusPending,
		MaxRetries:     s.cfg.MaxRetries,
		CreatedAt:      time.Now().UTC(),
	}

	data, err := json.Marshal(&m)
	if err != nil {
		return "", fmt.Errorf("marshal mutation: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(mutationKey(id), data)
	})
	if err != nil {
		return "", fmt.Errorf("persist mutation: %w", err)
	}

	metrics.QueueEnqueued.WithLabelValues(string(typ)).Inc()
	s.publishGauges()

	logging.Info().
		Str("mutation_id", id).
		Str("type", string(typ)).
		Msg("Mutation enqueued")
	return id, nil
}

// MarkProcessing transitions an entry from pending/failed to processing.
// At most one entry may be processing at a time.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.processingID != "" && s.processingID != id {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessing, s.processingID)
	}

	err := s.update(id, func(m *Mutation) error {
		if m.Status != StatusPending && m.Status != StatusFailed {
			return fmt.Errorf("%w: %s -> processing", ErrInvalidTransition, m.Status)
		}
		m.Status = StatusProcessing
		return nil
	})
	if err != nil {
		return err
	}

	s.processingID = id
	return nil
}

// MarkCompleted transitions the processing entry to completed. The entry
// becomes eligible for ClearCompleted garbage collection.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	err := s.update(id, func(m *Mutation) error {
		if m.Status != StatusProcessing {
			return fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, m.Status)
		}
		m.Status = StatusCompleted
		now := time.Now().UTC()
		m.LastAttemptAt = &now
		m.Error = ""
		return nil
	})
	if err != nil {
		return err
	}

	if s.processingID == id {
		s.processingID = ""
	}
	metrics.QueueCompleted.Inc()
	s.publishGauges()
	return nil
}

// MarkFailed records a failed delivery attempt: the retry count
// increments and the entry returns to the failed state.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	err := s.update(id, func(m *Mutation) error {
		if m.Status != StatusProcessing {
			return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, m.Status)
		}
		m.Status = StatusFailed
		m.RetryCount++
		now := time.Now().UTC()
		m.LastAttemptAt = &now
		if cause != nil {
			m.Error = cause.Error()
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.processingID == id {
		s.processingID = ""
	}
	s.publishGauges()
	return nil
}

// NextPending returns the oldest entry eligible for delivery, or nil
// when none remains. Entries that exhausted their retries are skipped.
func (s *Store) NextPending(ctx context.Context) (*Mutation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var next *Mutation
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixMutation)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var m Mutation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Skipping malformed queue entry")
				continue
			}
			if m.Eligible() {
				next = &m
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending entries: %w", err)
	}
	return next, nil
}

// Get returns a single entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*Mutation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var m Mutation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(mutationKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns all entries in creation order. Used by the status API.
func (s *Store) List(ctx context.Context) ([]*Mutation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Mutation
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixMutation)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var m Mutation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				continue
			}
			entries = append(entries, &m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// PendingCount returns the number of entries eligible for delivery.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	return s.count(ctx, func(m *Mutation) bool { return m.Eligible() })
}

// FailedCount returns the number of entries that exhausted their retries
// and await an explicit reset.
func (s *Store) FailedCount(ctx context.Context) (int, error) {
	return s.count(ctx, func(m *Mutation) bool { return m.Exhausted() })
}

// ResetFailed returns every exhausted entry to pending with a zeroed
// retry count and cleared error. This is the bulk "retry failed
// mutations" operation triggered by staff.
func (s *Store) ResetFailed(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	reset := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		var exhausted []*Mutation
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		prefix := []byte(prefixMutation)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m Mutation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				continue
			}
			if m.Exhausted() {
				exhausted = append(exhausted, &m)
			}
		}
		it.Close()

		for _, m := range exhausted {
			m.Status = StatusPending
			m.RetryCount = 0
			m.Error = ""
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("marshal entry: %w", err)
			}
			if err := txn.Set(mutationKey(m.ID), data); err != nil {
				return fmt.Errorf("set entry: %w", err)
			}
			reset++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reset failed entries: %w", err)
	}

	if reset > 0 {
		logging.Info().Int("reset", reset).Msg("Failed mutations returned to pending")
	}
	s.publishGauges()
	return reset, nil
}

// ClearCompleted deletes completed entries. Called at the end of every
// drain run.
func (s *Store) ClearCompleted(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	cleared := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixMutation)
		var toDelete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m Mutation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				continue
			}
			if m.Status == StatusCompleted {
				toDelete = append(toDelete, it.Item().KeyCopy(nil))
			}
		}
		for _, key := range toDelete {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete entry: %w", err)
			}
			cleared++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("clear completed entries: %w", err)
	}

	s.publishGauges()
	return cleared, nil
}

// Stats summarizes the queue for the status surface.
type Stats struct {
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Stats counts entries by state.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	entries, err := s.List(ctx)
	if err != nil {
		return st, err
	}
	for _, m := range entries {
		st.Total++
		switch {
		case m.Exhausted():
			st.Failed++
		case m.Status == StatusCompleted:
			st.Completed++
		case m.Eligible() || m.Status == StatusProcessing:
			st.Pending++
		}
	}
	return st, nil
}

// Close releases the ID sequence and shuts the database down.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.seq.Release(); err != nil {
		logging.Warn().Err(err).Msg("Failed to release queue ID sequence")
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("Mutation queue closed")
	return nil
}

// update loads, mutates and persists one entry inside a transaction.
func (s *Store) update(id string, fn func(*Mutation) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(mutationKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		var m Mutation
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		}); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}

		if err := fn(&m); err != nil {
			return err
		}

		data, err := json.Marshal(&m)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return txn.Set(mutationKey(id), data)
	})
}

func (s *Store) count(ctx context.Context, match func(*Mutation) bool) (int, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range entries {
		if match(m) {
			n++
		}
	}
	return n, nil
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// publishGauges refreshes the queue depth gauges. Best effort; reads the
// database directly so it is safe to call while holding s.mu.
func (s *Store) publishGauges() {
	var pending, failed int
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixMutation)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m Mutation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				continue
			}
			if m.Eligible() {
				pending++
			}
			if m.Exhausted() {
				failed++
			}
		}
		return nil
	})
	if err != nil {
		return
	}
	metrics.QueuePending.Set(float64(pending))
	metrics.QueueFailed.Set(float64(failed))
}

func mutationKey(id string) []byte {
	return []byte(prefixMutation + id)
}
