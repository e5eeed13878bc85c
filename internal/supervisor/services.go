// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package supervisor

import (
	"context"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/comanda/internal/events"
	"github.com/tomtom215/comanda/internal/netmon"
	"github.com/tomtom215/comanda/internal/status"
	syncmgr "github.com/tomtom215/comanda/internal/sync"
)

// startStopper is the Start/Stop lifecycle shared by the prober, event
// listener and sync manager.
type startStopper interface {
	Start(ctx context.Context) error
	Stop()
}

// lifecycleService adapts a Start/Stop component to suture.Service.
// Serve starts the component, blocks until the context is cancelled,
// then stops it.
type lifecycleService struct {
	name string
	impl startStopper
}

func (s *lifecycleService) Serve(ctx context.Context) error {
	if err := s.impl.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.impl.Stop()
	return ctx.Err()
}

func (s *lifecycleService) String() string {
	return s.name
}

// ProberService supervises the reachability prober.
func ProberService(p *netmon.Prober) suture.Service {
	return &lifecycleService{name: "reachability-prober", impl: p}
}

// EventListenerService supervises the realtime event listener.
func EventListenerService(l *events.Listener) suture.Service {
	return &lifecycleService{name: "event-listener", impl: l}
}

// SyncManagerService supervises the queue drain manager.
func SyncManagerService(m *syncmgr.Manager) suture.Service {
	return &lifecycleService{name: "sync-manager", impl: m}
}

// StatusServerService adapts the status HTTP server, whose Serve-style
// Start blocks by itself.
type StatusServerService struct {
	srv *status.Server
}

// NewStatusServerService wraps the status server for supervision.
func NewStatusServerService(srv *status.Server) *StatusServerService {
	return &StatusServerService{srv: srv}
}

// Serve implements suture.Service.
func (s *StatusServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		_ = s.srv.Stop(context.Background())
		<-errCh
		return ctx.Err()
	}
}

func (s *StatusServerService) String() string {
	return "status-server"
}
