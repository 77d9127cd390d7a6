// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package metrics provides Prometheus instrumentation for the ingestion
// gateway, the identity resolver, and the CDC sync. Resolver and CDC failures
// are invisible to external callers, so these counters are the primary way
// operators observe them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API metrics.
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
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Ingestion metrics.
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Total number of ingested events by outcome",
		},
		[]string{"outcome"}, // "processed", "failed"
	)

	IngestBatchRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_batch_rejections_total",
			Help: "Total number of whole-batch rejections",
		},
		[]string{"reason"}, // "auth", "validation", "bus_unavailable"
	)

	// Bus metrics.
	BusPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publishes_total",
			Help: "Total number of messages published to the bus",
		},
		[]string{"topic"},
	)

	BusConsumedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_consumed_total",
			Help: "Total number of messages consumed from the bus",
		},
	)

	// Resolver metrics.
	ResolverMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_matches_total",
			Help: "Total number of resolver decisions by match type",
		},
		[]string{"match_type"}, // hem, email, phone, name_company, ip_ua, new
	)

	ResolverDuplicatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_duplicates_skipped_total",
			Help: "Total number of redelivered events skipped by the idempotency ledger",
		},
	)

	ResolverFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_failures_total",
			Help: "Total number of resolver processing failures (nacked messages)",
		},
	)

	ResolverPoisonedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_poisoned_total",
			Help: "Total number of events routed to the poison topic after retry exhaustion",
		},
	)

	ResolverProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolver_processing_duration_seconds",
			Help:    "End-to-end resolver processing duration per event",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CDC metrics.
	CDCChangesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_changes_applied_total",
			Help: "Total number of change records replicated to the warehouse",
		},
		[]string{"collection"}, // "visitors", "events"
	)

	CDCRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cdc_retries_total",
			Help: "Total number of change replication retries",
		},
	)

	CDCDeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cdc_dead_letters_total",
			Help: "Total number of change records written to the dead-letter collection",
		},
	)

	CDCTailersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cdc_tailers_active",
			Help: "Current number of open change-stream tailers",
		},
	)

	CDCQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cdc_queue_depth",
			Help: "Current depth of the bounded change queue",
		},
	)

	// Warehouse metrics.
	WarehouseWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warehouse_write_duration_seconds",
			Help:    "Duration of warehouse writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	WarehouseWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_write_errors_total",
			Help: "Total number of warehouse write errors",
		},
		[]string{"table"},
	)
)

// TrackActiveRequest adjusts the active request gauge.
func TrackActiveRequest(active bool) {
	if active {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordAPIRequest records an API request with its duration.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordIngestEvent records the outcome of a single event within a batch.
func RecordIngestEvent(outcome string) {
	IngestEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordBatchRejection records a whole-batch rejection.
func RecordBatchRejection(reason string) {
	IngestBatchRejections.WithLabelValues(reason).Inc()
}

// RecordBusPublish records a successful bus publish.
func RecordBusPublish(topic string) {
	BusPublishesTotal.WithLabelValues(topic).Inc()
}

// RecordResolverMatch records a resolver decision.
func RecordResolverMatch(matchType string, duration time.Duration) {
	ResolverMatchesTotal.WithLabelValues(matchType).Inc()
	ResolverProcessingDuration.Observe(duration.Seconds())
}

// RecordCDCApplied records a replicated change.
func RecordCDCApplied(collection string) {
	CDCChangesApplied.WithLabelValues(collection).Inc()
}

// RecordWarehouseWrite records a warehouse write with its duration.
func RecordWarehouseWrite(table string, duration time.Duration, err error) {
	WarehouseWriteDuration.WithLabelValues(table).Observe(duration.Seconds())
	if err != nil {
		WarehouseWriteErrors.WithLabelValues(table).Inc()
	}
}
