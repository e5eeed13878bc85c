// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package main is the entry point for the Comanda client daemon.
//
// Comanda keeps a restaurant floor terminal usable through network
// outages. Writes go through a mutation gateway that executes against
// the ordering backend when it is reachable and parks them in a
// durable, ordered queue when it is not; a sync manager replays the
// queue whenever connectivity returns. The on-device UI talks to the
// daemon over a loopback HTTP API.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layered sources (env > file > defaults)
//  2. Logging: zerolog, JSON or console format
//  3. Mutation queue: BadgerDB store with crash recovery
//  4. HTTP client: retrying executor behind a circuit breaker
//  5. Network monitor: reachability prober plus event stream hints
//  6. Sync manager: drains the queue on every online transition
//  7. Status server: loopback API with queue controls and metrics
//
// All background services run under a Suture supervision tree and shut
// down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/comanda/internal/cache"
	"github.com/tomtom215/comanda/internal/client"
	"github.com/tomtom215/comanda/internal/config"
	"github.com/tomtom215/comanda/internal/events"
	"github.com/tomtom215/comanda/internal/gateway"
	"github.com/tomtom215/comanda/internal/logging"
	"github.com/tomtom215/comanda/internal/models"
	"github.com/tomtom215/comanda/internal/netmon"
	"github.com/tomtom215/comanda/internal/queue"
	"github.com/tomtom215/comanda/internal/rest"
	"github.com/tomtom215/comanda/internal/status"
	"github.com/tomtom215/comanda/internal/supervisor"
	syncmgr "github.com/tomtom215/comanda/internal/sync"
)

const readCacheTTL = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("backend", cfg.Backend.URL).Msg("Starting Comanda")

	store, err := queue.Open(queue.Config{
		Path:       cfg.Queue.Path,
		SyncWrites: cfg.Queue.SyncWrites,
		MaxRetries: cfg.Queue.MaxRetries,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open mutation queue")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close mutation queue")
		}
	}()

	httpClient := client.New(client.Config{
		BaseURL:        cfg.Backend.URL,
		Timeout:        cfg.Backend.Timeout,
		MaxRetries:     cfg.Backend.MaxRetries,
		RetryBaseDelay: cfg.Backend.RetryBaseDelay,
	})
	breaker := client.NewBreakerClient(httpClient)

	deviceID := cfg.Device.ID
	if deviceID == "" {
		deviceID = uuid.New().String()
		logging.Warn().Str("device_id", deviceID).Msg("No device id configured, using an ephemeral one")
	}

	// Device identity rides on every request from the start; the session
	// token is filled in once the staff member logs in through the UI.
	httpClient.SetCredentials(&client.Credentials{
		DeviceID:   deviceID,
		DeviceType: cfg.Device.Type,
		Platform:   cfg.Device.Platform,
		DeviceName: cfg.Device.Name,
	})

	notifier := netmon.NewNotifier()
	prober := netmon.NewProber(notifier, netmon.ProberConfig{
		URL:      cfg.Backend.URL + "/api/v1/health",
		Interval: cfg.Backend.ProbeInterval,
		Timeout:  cfg.Backend.ProbeTimeout,
	})

	manager := syncmgr.NewManager(store, notifier, syncmgr.Config{
		RetryDelay:   cfg.Sync.RetryDelay,
		ItemInterval: cfg.Sync.ItemInterval,
	})
	syncmgr.RegisterBackendHandlers(manager, breaker)

	guarded := make([]queue.MutationType, 0, len(cfg.Queue.OfflineGuarded))
	for _, t := range cfg.Queue.OfflineGuarded {
		guarded = append(guarded, queue.MutationType(t))
	}
	gw := gateway.New(store, notifier, gateway.Config{OfflineGuarded: guarded})

	readCache := cache.New(readCacheTTL)
	defer readCache.Stop()
	reader := rest.NewReader(breaker, readCache)

	tree := supervisor.NewTree(slog.Default(), supervisor.DefaultTreeConfig())
	tree.AddConnectivityService(supervisor.ProberService(prober))
	tree.AddDeliveryService(supervisor.SyncManagerService(manager))

	if cfg.Events.Enabled {
		listener := events.NewListener(events.Config{URL: eventStreamURL(cfg)}, notifier)
		listener.OnEvent(func(ev models.FloorEvent) {
			// Realtime pushes invalidate the affected read caches so
			// the next fetch reflects what the guest just did.
			switch {
			case strings.HasPrefix(ev.Kind, "call_"):
				reader.InvalidateCalls()
			case strings.HasPrefix(ev.Kind, "order_"):
				reader.InvalidateOrders()
			}
		})
		tree.AddConnectivityService(supervisor.EventListenerService(listener))
	}

	if cfg.Status.Enabled {
		statusSrv := status.NewServer(status.Config{Addr: cfg.Status.Addr}, store, manager, notifier, &status.LocalAPI{
			Gateway: gw,
			Exec:    breaker,
			Reader:  reader,
		})
		tree.AddDeliveryService(supervisor.NewStatusServerService(statusSrv))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := tree.Root().ServeBackground(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logging.Error().Err(err).Msg("Supervision tree exited")
		}
	}

	logging.Info().Msg("Comanda stopped")
}

// eventStreamURL derives the WebSocket endpoint from the backend URL
// when no explicit stream URL is configured.
func eventStreamURL(cfg *config.Config) string {
	if cfg.Events.URL != "" {
		return cfg.Events.URL
	}
	url := cfg.Backend.URL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/api/v1/events"
}
