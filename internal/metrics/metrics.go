// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

// Package metrics declares the Prometheus instruments exported at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Run Metrics
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync runs by terminal status",
		},
		[]string{"status"}, // completed, completed_with_warnings, cancelled, failed
	)

	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	SyncDaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_days_total",
			Help: "Total number of days processed by outcome",
		},
		[]string{"status"}, // complete, skipped, failed, halted
	)

	SyncRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_rows_written_total",
			Help: "Total number of metric rows committed",
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last committed day",
		},
	)

	// Batch Dispatch Metrics
	SyncBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_batches_total",
			Help: "Total number of API batches issued",
		},
		[]string{"kind", "result"}, // kind: day, query; result: success, failure
	)

	SyncBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_batch_size",
			Help:    "Number of sub-requests per query batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	SyncRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_retries_total",
			Help: "Total number of batch retries after retryable errors",
		},
		[]string{"kind"},
	)

	SearchAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_api_request_duration_seconds",
			Help:    "Duration of search API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status_class"},
	)

	// Backpressure Metrics
	BackpressureWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_backpressure_waits_total",
			Help: "Number of dispatch attempts that had to wait, by reason",
		},
		[]string{"reason"}, // writer_backlog, max_in_flight, max_queue_size
	)

	RateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_rate_limit_waits_total",
			Help: "API requests delayed by the process-wide rate budget",
		},
	)

	PipelineInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_pipeline_in_flight",
			Help: "Current number of in-flight API batches",
		},
	)

	PipelineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_pipeline_queue_depth",
			Help: "Current number of fetched results awaiting staging",
		},
	)

	PipelineStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_pipeline_status",
			Help: "1 for the current pipeline status, 0 otherwise",
		},
		[]string{"status"},
	)

	// Writer Metrics
	WriterQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_writer_queue_depth",
			Help: "Current number of pending writer jobs including the one in progress",
		},
	)

	WriterCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_writer_commit_duration_seconds",
			Help:    "Duration of per-day transactional commits",
			Buckets: prometheus.DefBuckets,
		},
	)

	WriterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_writer_errors_total",
			Help: "Total number of writer job failures",
		},
		[]string{"job"},
	)

	// Dead Letter Metrics
	DeadLetterEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_dead_letter_entries",
			Help: "Current number of dead-lettered days",
		},
	)

	DeadLetterAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_dead_letter_added_total",
			Help: "Total number of days dead-lettered (including repeat failures)",
		},
	)

	DeadLetterRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_dead_letter_retries_total",
			Help: "Operator retries of dead-lettered days by outcome",
		},
		[]string{"result"},
	)

	// Event Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_published_total",
			Help: "Total number of progress events published by kind",
		},
		[]string{"kind"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_events_dropped_total",
			Help: "Events dropped from slow subscriber queues",
		},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_event_subscribers",
			Help: "Current number of event subscribers",
		},
	)

	EventForwardErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_event_forward_errors_total",
			Help: "Events that failed to publish to the message broker",
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

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	// HTTP API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of operator API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Operator API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)
)

// pipelineStatuses lists every label value of PipelineStatus.
var pipelineStatuses = []string{"idle", "dispatch", "backpressure", "finalizing", "halted", "error"}

// RecordSyncRun records a run reaching a terminal status.
func RecordSyncRun(status string, duration time.Duration) {
	SyncRunsTotal.WithLabelValues(status).Inc()
	SyncRunDuration.Observe(duration.Seconds())
}

// RecordDay records a per-day outcome.
func RecordDay(status string, rows int64) {
	SyncDaysTotal.WithLabelValues(status).Inc()
	if status == "complete" {
		SyncRowsWritten.Add(float64(rows))
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordBatch records one API batch outcome.
func RecordBatch(kind string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	SyncBatchesTotal.WithLabelValues(kind, result).Inc()
}

// SetPipelineStatus marks status as current in the PipelineStatus gauge.
func SetPipelineStatus(status string) {
	for _, s := range pipelineStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		PipelineStatus.WithLabelValues(s).Set(v)
	}
}

// RecordAPIRequest records an operator API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
