// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Code identifies the failure class of a request. It is the sole input
// for retry and queue decisions downstream; callers must never parse
// error message text to decide behavior.
type Code string

const (
	CodeNetworkError Code = "NETWORK_ERROR"
	CodeTimeout      Code = "TIMEOUT"
	CodeClientError  Code = "CLIENT_ERROR"
	CodeServerError  Code = "SERVER_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeUnknown      Code = "UNKNOWN_ERROR"
)

// retryableStatuses lists HTTP statuses that indicate a transient server
// condition worth retrying in addition to transport-level failures.
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// Error is the classified error produced once per failed request attempt.
// It is immutable after construction.
type Error struct {
	// Message is the human-readable failure description, taken from the
	// server's error envelope when available.
	Message string

	// HTTPStatus is the response status code, or 0 when no response was
	// received (transport failure or timeout).
	HTTPStatus int

	// Code is the failure classification.
	Code Code

	// Retryable reports whether an automatic retry may succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNetworkClass reports whether the error represents a connectivity
// problem (no response reached the client). These are the only failures
// the mutation gateway converts into queued work.
func (e *Error) IsNetworkClass() bool {
	return e.Code == CodeNetworkError || e.Code == CodeTimeout
}

// AsClassified extracts a *Error from an error chain.
func AsClassified(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// classifyTransport classifies a failure where no HTTP response was
// received. Timeout and cancellation signals take precedence over the
// generic network classification.
func classifyTransport(err error) *Error {
	code := CodeNetworkError
	if isTimeout(err) {
		code = CodeTimeout
	}
	return &Error{
		Message:   err.Error(),
		Code:      code,
		Retryable: true,
	}
}

// classifyStatus classifies a failure based on the HTTP response status.
// Evaluated in the order 401, 403, 4xx, 5xx per the API contract.
func classifyStatus(status int, message string) *Error {
	e := &Error{
		Message:    message,
		HTTPStatus: status,
	}

	switch {
	case status == http.StatusUnauthorized:
		e.Code = CodeUnauthorized
	case status == http.StatusForbidden:
		e.Code = CodeForbidden
	case status >= 400 && status < 500:
		e.Code = CodeClientError
	case status >= 500:
		e.Code = CodeServerError
	default:
		e.Code = CodeUnknown
	}

	// 408 stays retryable despite the CLIENT_ERROR classification.
	e.Retryable = retryableStatuses[status]
	return e
}

// isTimeout reports whether a transport error carries a timeout or
// deadline signal.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
