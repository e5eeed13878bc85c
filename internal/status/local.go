// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package status

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/comanda/internal/client"
	"github.com/tomtom215/comanda/internal/gateway"
	"github.com/tomtom215/comanda/internal/queue"
	"github.com/tomtom215/comanda/internal/rest"
	syncmgr "github.com/tomtom215/comanda/internal/sync"
)

const maxSubmitBodySize = 1 << 20 // 1MB

// LocalAPI bundles the components behind the device-facing routes: the
// mutation gateway for writes and the cached reader for queries. The
// on-device UI talks to these endpoints over loopback.
type LocalAPI struct {
	Gateway *gateway.Gateway
	Exec    syncmgr.Executor
	Reader  *rest.Reader
}

func (s *Server) localRoutes(r chi.Router) {
	r.Post("/mutations/{type}", s.handleSubmit)

	r.Get("/menu", s.handleRead(func(r *http.Request) (interface{}, error) {
		return s.api.Reader.Menu(r.Context())
	}))
	r.Get("/tables", s.handleRead(func(r *http.Request) (interface{}, error) {
		return s.api.Reader.Tables(r.Context())
	}))
	r.Get("/orders/open", s.handleRead(func(r *http.Request) (interface{}, error) {
		return s.api.Reader.OpenOrders(r.Context())
	}))
	r.Get("/calls/active", s.handleRead(func(r *http.Request) (interface{}, error) {
		return s.api.Reader.ActiveCalls(r.Context())
	}))
}

// handleSubmit routes one write through the gateway. 200 means the
// backend applied it; 202 means it was queued for a later drain.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	typ := queue.MutationType(chi.URLParam(r, "type"))

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.api.Gateway.Submit(r.Context(), typ, payload, func(ctx context.Context, key string) (json.RawMessage, error) {
		return syncmgr.Dispatch(ctx, s.api.Exec, typ, payload, key)
	})
	if err != nil {
		respondError(w, submitErrorStatus(err), err)
		return
	}

	if res.Queued {
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"queued":   true,
			"queue_id": res.QueueID,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(res.Response) > 0 {
		_, _ = w.Write(res.Response)
	} else {
		_, _ = w.Write([]byte(`{}`))
	}
}

func (s *Server) handleRead(fetch func(*http.Request) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fetch(r)
		if err != nil {
			respondError(w, readErrorStatus(err), err)
			return
		}
		respondJSON(w, http.StatusOK, v)
	}
}

// submitErrorStatus maps gateway failures to HTTP statuses for the
// local UI.
func submitErrorStatus(err error) int {
	switch {
	case errors.Is(err, gateway.ErrOfflineGuarded):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrInvalidPayload), errors.Is(err, queue.ErrUnknownType):
		return http.StatusBadRequest
	}
	if ce, ok := client.AsClassified(err); ok && ce.HTTPStatus > 0 {
		return ce.HTTPStatus
	}
	return http.StatusBadGateway
}

func readErrorStatus(err error) int {
	if ce, ok := client.AsClassified(err); ok {
		if ce.HTTPStatus > 0 {
			return ce.HTTPStatus
		}
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
