// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

// Package metrics provides Prometheus metrics collection for Serplens.
//
// Metrics are registered with promauto on package init and exposed at
// the /metrics endpoint in Prometheus text format. They cover the fetch
// orchestrator (requests by resource/strategy, fallback tier usage),
// the TTL cache (hits, misses, stale fallbacks, persistence), the
// upstream circuit breaker and the HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch Orchestrator Metrics
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_requests_total",
			Help: "Total upstream fetch operations by resource, strategy and outcome",
		},
		[]string{"resource", "strategy", "status"}, // strategy: bulk, month, batch, day
	)

	FetchFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_fallbacks_total",
			Help: "Total fallback tier activations by resource and tier",
		},
		[]string{"resource", "tier"}, // tier: month_split, day_batch, stale_cache, empty
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Duration of range fetch operations in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"resource"},
	)

	FetchPartialFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_partial_failures_total",
			Help: "Single-unit failures absorbed inside a range fetch",
		},
		[]string{"resource"},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits within TTL",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses (absent or expired entries)",
		},
	)

	CacheStaleServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_stale_served_total",
			Help: "Expired entries served because a fresh fetch failed",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of in-memory cache entries",
		},
	)

	CachePersistedEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_persisted_entries",
			Help: "Entries written by the most recent persistence pass",
		},
	)

	CachePersistSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_persist_skipped_total",
			Help: "Entries excluded from persistence by the size guard",
		},
	)

	CacheRestoreDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_restore_dropped_total",
			Help: "Persisted entries discarded as corrupt during restore",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by outcome",
		},
		[]string{"name", "outcome"}, // outcome: success, failure, rejected
	)

	// Preload Metrics
	PreloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "preload_duration_seconds",
			Help:    "Duration of the startup bulk preload in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	PreloadTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preload_tasks_total",
			Help: "Preload tasks by outcome",
		},
		[]string{"task", "status"}, // task: summary, domain, country
	)

	// HTTP Surface Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Update Workflow Metrics
	UpdatePollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "update_polls_total",
			Help: "Update-status poll results by reported status",
		},
		[]string{"status"},
	)
)

// RecordFetch records one upstream fetch attempt.
func RecordFetch(resource, strategy string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	FetchRequestsTotal.WithLabelValues(resource, strategy, status).Inc()
}

// RecordFetchDuration observes the total duration of a range fetch.
func RecordFetchDuration(resource string, d time.Duration) {
	FetchDuration.WithLabelValues(resource).Observe(d.Seconds())
}

// RecordAPIRequest records one handled HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}
