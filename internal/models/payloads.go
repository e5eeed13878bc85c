// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package models defines the typed request payloads and response shapes
// exchanged with the ordering backend. Payloads validate with
// go-playground/validator tags before they are executed or queued, so a
// malformed write never survives a restart inside the mutation queue.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// OrderItemInput is one line of a new or amended order.
type OrderItemInput struct {
	MenuItemID string   `json:"menu_item_id" validate:"required"`
	Quantity   int      `json:"quantity" validate:"required,gte=1,lte=99"`
	Modifiers  []string `json:"modifiers,omitempty" validate:"dive,max=100"`
	Notes      string   `json:"notes,omitempty" validate:"max=500"`
}

// CreateOrderPayload opens an order for a table.
type CreateOrderPayload struct {
	TableID string           `json:"table_id" validate:"required"`
	Items   []OrderItemInput `json:"items" validate:"required,min=1,dive"`
	Notes   string           `json:"notes,omitempty" validate:"max=500"`
}

// AddOrderItemsPayload appends lines to an existing order.
type AddOrderItemsPayload struct {
	OrderID string           `json:"order_id" validate:"required"`
	Items   []OrderItemInput `json:"items" validate:"required,min=1,dive"`
}

// UpdateItemStatusPayload moves one order line through the kitchen flow.
type UpdateItemStatusPayload struct {
	OrderID string `json:"order_id" validate:"required"`
	ItemID  string `json:"item_id" validate:"required"`
	Status  string `json:"status" validate:"required,oneof=queued preparing ready served cancelled"`
}

// AcknowledgeCallPayload marks a waiter call as seen.
type AcknowledgeCallPayload struct {
	CallID string `json:"call_id" validate:"required"`
}

// CompleteCallPayload resolves a waiter call.
type CompleteCallPayload struct {
	CallID string `json:"call_id" validate:"required"`
}

// CancelCallPayload dismisses a waiter call without service.
type CancelCallPayload struct {
	CallID string `json:"call_id" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"max=200"`
}

// CreateBillPayload requests a bill covering one or more orders.
type CreateBillPayload struct {
	TableID         string   `json:"table_id" validate:"required"`
	OrderIDs        []string `json:"order_ids" validate:"required,min=1,dive,required"`
	DiscountPercent float64  `json:"discount_percent,omitempty" validate:"gte=0,lte=100"`
}

// CreatePaymentPayload settles a bill.
type CreatePaymentPayload struct {
	BillID    string  `json:"bill_id" validate:"required"`
	Method    string  `json:"method" validate:"required,oneof=cash card voucher"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	TipAmount float64 `json:"tip_amount,omitempty" validate:"gte=0"`
}

// Order is the backend's order representation.
type Order struct {
	ID        string      `json:"id"`
	TableID   string      `json:"table_id"`
	Status    string      `json:"status"`
	Items     []OrderItem `json:"items"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// OrderItem is one confirmed order line.
type OrderItem struct {
	ID         string   `json:"id"`
	MenuItemID string   `json:"menu_item_id"`
	Name       string   `json:"name"`
	Quantity   int      `json:"quantity"`
	Status     string   `json:"status"`
	UnitPrice  float64  `json:"unit_price"`
	Modifiers  []string `json:"modifiers,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// Bill is the backend's bill representation.
type Bill struct {
	ID        string    `json:"id"`
	TableID   string    `json:"table_id"`
	OrderIDs  []string  `json:"order_ids"`
	Subtotal  float64   `json:"subtotal"`
	Discount  float64   `json:"discount"`
	Total     float64   `json:"total"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Payment is the backend's payment representation.
type Payment struct {
	ID        string    `json:"id"`
	BillID    string    `json:"bill_id"`
	Method    string    `json:"method"`
	Amount    float64   `json:"amount"`
	TipAmount float64   `json:"tip_amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Call is a guest's waiter call.
type Call struct {
	ID        string    `json:"id"`
	TableID   string    `json:"table_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// MenuItem is one sellable item from the menu read path.
type MenuItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Price       float64  `json:"price"`
	Available   bool     `json:"available"`
	Allergens   []string `json:"allergens,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Table is one floor table from the read path.
type Table struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Zone     string `json:"zone"`
	Seats    int    `json:"seats"`
	Occupied bool   `json:"occupied"`
}

// FloorEvent is a realtime notification pushed over the event stream.
type FloorEvent struct {
	Kind      string          `json:"kind"`
	TableID   string          `json:"table_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
