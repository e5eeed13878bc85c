// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package queue

import (
	"time"

	"github.com/goccy/go-json"
)

// MutationType names the semantic kind of a queued write. The set is
// closed: the sync manager owns one handler per type.
type MutationType string

const (
	MutationCreateOrder      MutationType = "create_order"
	MutationAddOrderItems    MutationType = "add_order_items"
	MutationUpdateItemStatus MutationType = "update_item_status"
	MutationAcknowledgeCall  MutationType = "acknowledge_call"
	MutationCompleteCall     MutationType = "complete_call"
	MutationCancelCall       MutationType = "cancel_call"
	MutationCreateBill       MutationType = "create_bill"
	MutationCreatePayment    MutationType = "create_payment"
)

// Valid reports whether t is one of the known mutation types.
func (t MutationType) Valid() bool {
	switch t {
	case MutationCreateOrder, MutationAddOrderItems, MutationUpdateItemStatus,
		MutationAcknowledgeCall, MutationCompleteCall, MutationCancelCall,
		MutationCreateBill, MutationCreatePayment:
		return true
	}
	return false
}

// Status is the lifecycle state of a queued mutation.
//
// Transitions: pending → processing → {completed | failed};
// failed → pending only via ResetFailed after retries are exhausted.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Mutation is one durable write intent. IDs are assigned from a badger
// sequence and zero-padded, so the store's key order is creation order.
type Mutation struct {
	// ID is the opaque, locally generated, creation-ordered identifier.
	ID string `json:"id"`

	// Type names the write's semantic kind.
	Type MutationType `json:"type"`

	// Payload is the serialized request body for this mutation type.
	Payload json.RawMessage `json:"payload"`

	// IdempotencyKey is a client-generated UUID forwarded with every
	// delivery attempt so the backend can deduplicate ambiguous replays.
	IdempotencyKey string `json:"idempotency_key"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// RetryCount is the number of failed delivery attempts. It only
	// increases, except through an explicit ResetFailed.
	RetryCount int `json:"retry_count"`

	// MaxRetries bounds delivery attempts before the entry is parked as
	// failed and surfaced for manual retry.
	MaxRetries int `json:"max_retries"`

	// CreatedAt is when the mutation was enqueued.
	CreatedAt time.Time `json:"created_at"`

	// LastAttemptAt is the time of the most recent delivery attempt.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// Error is the message from the last failed attempt.
	Error string `json:"error,omitempty"`
}

// UnmarshalPayload deserializes the payload into the given type.
func (m *Mutation) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// Eligible reports whether the entry may be picked up by a drain:
// pending, or failed with retries remaining.
func (m *Mutation) Eligible() bool {
	return (m.Status == StatusPending || m.Status == StatusFailed) && m.RetryCount < m.MaxRetries
}

// Exhausted reports whether the entry failed and has no retries left.
// Such entries are skipped by NextPending until explicitly reset.
func (m *Mutation) Exhausted() bool {
	return m.Status == StatusFailed && m.RetryCount >= m.MaxRetries
}
