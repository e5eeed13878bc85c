// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeComponent implements the Start/Stop lifecycle.
type fakeComponent struct {
	started atomic.Int32
	stopped atomic.Int32
}

func (f *fakeComponent) Start(ctx context.Context) error {
	f.started.Add(1)
	return nil
}

func (f *fakeComponent) Stop() {
	f.stopped.Add(1)
}

func TestTreeRunsAndStopsLifecycleService(t *testing.T) {
	tree := NewTree(slog.Default(), DefaultTreeConfig())

	comp := &fakeComponent{}
	tree.AddDeliveryService(&lifecycleService{name: "fake", impl: comp})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.Root().ServeBackground(ctx)

	require.Eventually(t, func() bool { return comp.started.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled) || err == nil)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not shut down")
	}
	assert.Equal(t, int32(1), comp.stopped.Load())
}

func TestTreeRestartsCrashingService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(slog.Default(), cfg)

	var serves atomic.Int32
	tree.AddConnectivityService(&crashingService{serves: &serves})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.Root().ServeBackground(ctx)

	require.Eventually(t, func() bool { return serves.Load() >= 2 }, 3*time.Second, 10*time.Millisecond,
		"a crashing service is restarted")
}

type crashingService struct {
	serves *atomic.Int32
}

func (c *crashingService) Serve(ctx context.Context) error {
	c.serves.Add(1)
	return errors.New("boom")
}

func (c *crashingService) String() string { return "crasher" }
