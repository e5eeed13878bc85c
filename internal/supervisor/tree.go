// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package supervisor provides Suture-based process supervision for the
// client's background services. Two layers isolate failures: a crash in
// the connectivity layer (prober, event stream) never takes down the
// delivery layer (sync manager, status server), and vice versa.
package supervisor

import (
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree settings.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering
	// backoff. Default: 5.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay, in seconds.
	// Default: 30.
	FailureDecay float64

	// FailureBackoff is the wait when the threshold is exceeded.
	// Default: 15s.
	FailureBackoff time.Duration

	// ShutdownTimeout bounds graceful shutdown per service.
	// Default: 10s.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig matches suture's built-in defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the two-layer supervisor hierarchy.
type Tree struct {
	root         *suture.Supervisor
	connectivity *suture.Supervisor
	delivery     *suture.Supervisor
}

// NewTree builds the supervisor hierarchy. Supervision events are
// logged through slog via sutureslog.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("comanda", rootSpec)
	connectivity := suture.New("connectivity-layer", childSpec)
	delivery := suture.New("delivery-layer", childSpec)

	root.Add(connectivity)
	root.Add(delivery)

	return &Tree{root: root, connectivity: connectivity, delivery: delivery}
}

// Root returns the root supervisor.
func (t *Tree) Root() *suture.Supervisor {
	return t.root
}

// AddConnectivityService supervises a service in the connectivity
// layer: the reachability prober and the event listener.
func (t *Tree) AddConnectivityService(svc suture.Service) suture.ServiceToken {
	return t.connectivity.Add(svc)
}

// AddDeliveryService supervises a service in the delivery layer: the
// sync manager and the status server.
func (t *Tree) AddDeliveryService(svc suture.Service) suture.ServiceToken {
	return t.delivery.Add(svc)
}
