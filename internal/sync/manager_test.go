// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/comanda/internal/netmon"
	"github.com/tomtom215/comanda/internal/queue"
)

func newTestManager(t *testing.T) (*Manager, *queue.Store, *netmon.Notifier) {
	t.Helper()
	store, err := queue.Open(queue.Config{Path: t.TempDir(), SyncWrites: false, MaxRetries: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	notifier := netmon.NewNotifier()
	m := NewManager(store, notifier, Config{
		RetryDelay:   time.Millisecond,
		ItemInterval: time.Millisecond,
	})
	return m, store, notifier
}

func callPayload(id string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"call_id":%q}`, id))
}

func TestDrainDeliversAllPendingInOrder(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Enqueue(ctx, queue.MutationAcknowledgeCall, callPayload(fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
	}

	var delivered []string
	m.RegisterHandler(queue.MutationAcknowledgeCall, func(ctx context.Context, mut *queue.Mutation) error {
		var p struct {
			CallID string `json:"call_id"`
		}
		require.NoError(t, mut.UnmarshalPayload(&p))
		delivered = append(delivered, p.CallID)
		return nil
	})

	res, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Zero(t, res.Failed)
	assert.Equal(t, []string{"c0", "c1", "c2"}, delivered, "delivery follows creation order")

	// Completed entries are cleared when the drain exits.
	entries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, m.LastSyncAt().IsZero())
}

func TestDrainRetriesUntilSuccess(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, queue.MutationCreateOrder, json.RawMessage(`{"table_id":"t1"}`))
	require.NoError(t, err)

	attempts := 0
	m.RegisterHandler(queue.MutationCreateOrder, func(ctx context.Context, mut *queue.Mutation) error {
		attempts++
		if attempts <= 2 {
			return errors.New("connection refused")
		}
		// Third attempt: two failures are already on record.
		cur, err := store.Get(ctx, mut.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, cur.RetryCount)
		return nil
	})

	res, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 3, attempts)

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, queue.ErrNotFound, "completed entry cleared after the run")
}

func TestDrainParksExhaustedEntry(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, queue.MutationCreateBill, json.RawMessage(`{"table_id":"t1"}`))
	require.NoError(t, err)

	attempts := 0
	m.RegisterHandler(queue.MutationCreateBill, func(ctx context.Context, mut *queue.Mutation) error {
		attempts++
		return errors.New("backend unreachable")
	})

	res, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 3, attempts, "attempts stop at the retry bound")

	mut, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, mut.Exhausted())

	failed, err := store.FailedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	// Staff retry: back to pending with a clean slate.
	n, err := store.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mut, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, mut.Status)
	assert.Zero(t, mut.RetryCount)
}

func TestDrainSkipsEntryWithoutHandler(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, queue.MutationCancelCall, callPayload("c9"))
	require.NoError(t, err)

	res, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Failed, "unhandled entries burn through their retries")

	mut, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, mut.Exhausted())
	assert.Contains(t, mut.Error, "no handler registered")
}

func TestDrainSingleFlight(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, queue.MutationAcknowledgeCall, callPayload("c1"))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	m.RegisterHandler(queue.MutationAcknowledgeCall, func(ctx context.Context, mut *queue.Mutation) error {
		close(entered)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = m.Drain(ctx)
	}()

	<-entered
	assert.True(t, m.Draining())

	_, err = m.Drain(ctx)
	assert.ErrorIs(t, err, ErrDrainInProgress)

	close(release)
	wg.Wait()
	assert.False(t, m.Draining())
}

func TestDrainStopsWhenOffline(t *testing.T) {
	m, store, notifier := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Enqueue(ctx, queue.MutationAcknowledgeCall, callPayload(fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
	}

	m.RegisterHandler(queue.MutationAcknowledgeCall, func(ctx context.Context, mut *queue.Mutation) error {
		// Network drops after the first delivery.
		notifier.SetConnected(false)
		return nil
	})

	res, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	pending, err := store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending, "remaining entries stay pending for the next run")
	assert.False(t, m.LastSyncAt().IsZero(), "early exits still record the sync time")
}

func TestDrainOfflineIsImmediateNoop(t *testing.T) {
	m, store, notifier := newTestManager(t)
	ctx := context.Background()
	notifier.SetConnected(false)

	_, err := store.Enqueue(ctx, queue.MutationAcknowledgeCall, callPayload("c1"))
	require.NoError(t, err)

	res, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Zero(t, res.Failed)
}

func TestStartDrainsOnOnlineTransition(t *testing.T) {
	m, store, notifier := newTestManager(t)
	ctx := context.Background()
	notifier.SetConnected(false)

	_, err := store.Enqueue(ctx, queue.MutationAcknowledgeCall, callPayload("c1"))
	require.NoError(t, err)

	m.RegisterHandler(queue.MutationAcknowledgeCall, func(ctx context.Context, mut *queue.Mutation) error {
		return nil
	})

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	// Still offline: nothing moves.
	time.Sleep(20 * time.Millisecond)
	pending, err := store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	notifier.SetConnected(true)

	require.Eventually(t, func() bool {
		n, err := store.PendingCount(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond, "online transition triggers a drain")
}

func TestStartDrainsEagerlyWhenAlreadyOnline(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, queue.MutationAcknowledgeCall, callPayload("c1"))
	require.NoError(t, err)

	m.RegisterHandler(queue.MutationAcknowledgeCall, func(ctx context.Context, mut *queue.Mutation) error {
		return nil
	})

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.Eventually(t, func() bool {
		n, err := store.PendingCount(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartStopIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx))
	m.Stop()
	m.Stop()
}
