// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package models

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tomtom215/comanda/internal/queue"
)

// singleton validator instance
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the singleton validator. Thread-safe; the
// instance caches struct metadata across calls.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct validates v and flattens field errors into a single
// readable message.
func ValidateStruct(v interface{}) error {
	err := GetValidator().Struct(v)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("validation: %s", strings.Join(msgs, "; "))
}

// payloadPrototypes maps each mutation type to its payload shape.
var payloadPrototypes = map[queue.MutationType]func() interface{}{
	queue.MutationCreateOrder:      func() interface{} { return &CreateOrderPayload{} },
	queue.MutationAddOrderItems:    func() interface{} { return &AddOrderItemsPayload{} },
	queue.MutationUpdateItemStatus: func() interface{} { return &UpdateItemStatusPayload{} },
	queue.MutationAcknowledgeCall:  func() interface{} { return &AcknowledgeCallPayload{} },
	queue.MutationCompleteCall:     func() interface{} { return &CompleteCallPayload{} },
	queue.MutationCancelCall:       func() interface{} { return &CancelCallPayload{} },
	queue.MutationCreateBill:       func() interface{} { return &CreateBillPayload{} },
	queue.MutationCreatePayment:    func() interface{} { return &CreatePaymentPayload{} },
}

// ValidatePayload parses raw as the payload type for typ and validates
// it. Called at the gateway boundary before a mutation executes or is
// queued.
func ValidatePayload(typ queue.MutationType, raw json.RawMessage) error {
	proto, ok := payloadPrototypes[typ]
	if !ok {
		return fmt.Errorf("no payload shape for mutation type %q", typ)
	}

	v := proto()
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", typ, err)
	}
	return ValidateStruct(v)
}
