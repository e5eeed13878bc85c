// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package status exposes the local operational surface: queue
// inspection, manual drain and retry triggers, connectivity state and
// Prometheus metrics. It binds to localhost; the device UI and on-site
// diagnostics are its only consumers.
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/comanda/internal/logging"
	"github.com/tomtom215/comanda/internal/netmon"
	"github.com/tomtom215/comanda/internal/queue"
	syncmgr "github.com/tomtom215/comanda/internal/sync"
)

// Config holds status server settings.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8099".
	Addr string
}

// Server is the local ops HTTP server.
type Server struct {
	store   *queue.Store
	manager *syncmgr.Manager
	monitor netmon.Monitor
	api     *LocalAPI
	http    *http.Server
}

// NewServer wires the ops surface over the queue, sync manager and
// network monitor. api is optional; when set, the device-facing
// submit and read routes are mounted too.
func NewServer(cfg Config, store *queue.Store, manager *syncmgr.Manager, monitor netmon.Monitor, api *LocalAPI) *Server {
	s := &Server{store: store, manager: manager, monitor: monitor, api: api}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/queue", func(r chi.Router) {
		r.Get("/", s.handleQueueList)
		r.Get("/stats", s.handleQueueStats)
		r.Post("/retry-failed", s.handleRetryFailed)
	})

	r.Post("/sync", s.handleSync)

	if s.api != nil {
		s.localRoutes(r)
	}

	return r
}

// Start begins serving. Blocks until the listener stops.
func (s *Server) Start(ctx context.Context) error {
	logging.Info().Str("addr", s.http.Addr).Msg("Starting status server")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	state := s.monitor.State()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"online":       state.Online(),
		"network":      state,
		"queue":        stats,
		"draining":     s.manager.Draining(),
		"last_sync_at": nullableTime(s.manager.LastSyncAt()),
	})
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []*queue.Mutation{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleRetryFailed returns exhausted entries to pending and kicks a
// drain so they move immediately when the network allows.
func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ResetFailed(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if n > 0 {
		s.manager.Kick()
	}
	respondJSON(w, http.StatusOK, map[string]int{"reset": n})
}

// handleSync runs a drain synchronously so the caller sees the result.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.Drain(r.Context())
	if errors.Is(err, syncmgr.ErrDrainInProgress) {
		respondError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode status response")
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
