// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package sync

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/comanda/internal/queue"
)

// Executor sends one idempotency-keyed request to the backend. Both
// client.Client and client.BreakerClient satisfy it.
type Executor interface {
	ExecuteWithKey(ctx context.Context, method, path string, body interface{}, idempotencyKey string) (json.RawMessage, error)
}

// Endpoint resolves the backend method and path for one mutation. Path
// parameters come out of the payload itself.
func Endpoint(typ queue.MutationType, payload json.RawMessage) (method, path string, err error) {
	switch typ {
	case queue.MutationCreateOrder:
		return http.MethodPost, "/api/v1/orders", nil

	case queue.MutationAddOrderItems:
		var p struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", "", fmt.Errorf("decode payload: %w", err)
		}
		return http.MethodPost, fmt.Sprintf("/api/v1/orders/%s/items", p.OrderID), nil

	case queue.MutationUpdateItemStatus:
		var p struct {
			OrderID string `json:"order_id"`
			ItemID  string `json:"item_id"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", "", fmt.Errorf("decode payload: %w", err)
		}
		return http.MethodPatch, fmt.Sprintf("/api/v1/orders/%s/items/%s", p.OrderID, p.ItemID), nil

	case queue.MutationAcknowledgeCall:
		return callEndpoint(payload, "acknowledge")
	case queue.MutationCompleteCall:
		return callEndpoint(payload, "complete")
	case queue.MutationCancelCall:
		return callEndpoint(payload, "cancel")

	case queue.MutationCreateBill:
		return http.MethodPost, "/api/v1/bills", nil
	case queue.MutationCreatePayment:
		return http.MethodPost, "/api/v1/payments", nil
	}
	return "", "", fmt.Errorf("%w: %q", queue.ErrUnknownType, typ)
}

func callEndpoint(payload json.RawMessage, action string) (string, string, error) {
	var p struct {
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", "", fmt.Errorf("decode payload: %w", err)
	}
	return http.MethodPost, fmt.Sprintf("/api/v1/calls/%s/%s", p.CallID, action), nil
}

// Dispatch sends one mutation payload to its backend endpoint with the
// given idempotency key. The gateway uses it for direct execution; the
// drain handlers use it for replay, so both paths hit identical routes.
func Dispatch(ctx context.Context, exec Executor, typ queue.MutationType, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	method, path, err := Endpoint(typ, payload)
	if err != nil {
		return nil, err
	}
	return exec.ExecuteWithKey(ctx, method, path, payload, idempotencyKey)
}

// RegisterBackendHandlers installs the delivery handler for every
// mutation type. Each delivery forwards the entry's idempotency key so
// replays after ambiguous failures cannot double-apply.
func RegisterBackendHandlers(m *Manager, exec Executor) {
	types := []queue.MutationType{
		queue.MutationCreateOrder,
		queue.MutationAddOrderItems,
		queue.MutationUpdateItemStatus,
		queue.MutationAcknowledgeCall,
		queue.MutationCompleteCall,
		queue.MutationCancelCall,
		queue.MutationCreateBill,
		queue.MutationCreatePayment,
	}
	for _, typ := range types {
		typ := typ
		m.RegisterHandler(typ, func(ctx context.Context, mut *queue.Mutation) error {
			_, err := Dispatch(ctx, exec, typ, mut.Payload, mut.IdempotencyKey)
			return err
		})
	}
}
