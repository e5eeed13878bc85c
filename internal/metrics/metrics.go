// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package metrics provides Prometheus instrumentation for the offline
// resilience subsystem: request classification, queue depth, drain
// outcomes, and circuit breaker state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request Executor Metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comanda_requests_total",
			Help: "Total number of backend requests by method and outcome",
		},
		[]string{"method", "outcome"}, // outcome: "success" or the error code
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comanda_request_duration_seconds",
			Help:    "Backend request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	RequestRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comanda_request_retries_total",
			Help: "Total number of automatic request retry attempts",
		},
	)

	// Mutation Queue Metrics
	QueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "comanda_queue_pending_entries",
			Help: "Number of queued mutations eligible for draining",
		},
	)

	QueueFailed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "comanda_queue_failed_entries",
			Help: "Number of queued mutations that exhausted their retries",
		},
	)

	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comanda_queue_enqueued_total",
			Help: "Total number of mutations enqueued by type",
		},
		[]string{"type"},
	)

	QueueCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comanda_queue_completed_total",
			Help: "Total number of queued mutations delivered to the backend",
		},
	)

	// Sync Manager Metrics
	DrainRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comanda_drain_runs_total",
			Help: "Total number of drain executions",
		},
	)

	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "comanda_drain_duration_seconds",
			Help:    "Duration of queue drain runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	DrainItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comanda_drain_items_total",
			Help: "Total number of drained items by result",
		},
		[]string{"result"}, // "processed" or "failed"
	)

	// Network Monitor Metrics
	NetworkOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "comanda_network_online",
			Help: "Whether the device currently considers itself online (1) or offline (0)",
		},
	)

	NetworkTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comanda_network_transitions_total",
			Help: "Total number of connectivity state transitions",
		},
		[]string{"to"}, // "online" or "offline"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "comanda_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comanda_circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	// Realtime Event Metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comanda_events_received_total",
			Help: "Total realtime events received by kind",
		},
		[]string{"kind"},
	)

	EventReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comanda_event_reconnects_total",
			Help: "Total realtime event stream reconnect attempts",
		},
	)
)
