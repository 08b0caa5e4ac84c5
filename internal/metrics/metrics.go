// Package metrics declares the Prometheus collectors for the sync pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider clients
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_provider_requests_total",
			Help: "Catalog provider requests by outcome",
		},
		[]string{"provider", "outcome"}, // "ok", "error", "rejected"
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animehub_provider_request_duration_seconds",
			Help:    "Catalog provider request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "animehub_circuit_breaker_state",
			Help: "Provider circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Pipeline
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_records_processed_total",
			Help: "Records handled by sync and reconcile runs",
		},
		[]string{"content_type", "outcome"}, // "created", "updated", "pending", "skipped", "error"
	)

	PageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_page_errors_total",
			Help: "Page fetches that failed and were skipped",
		},
		[]string{"provider", "content_type"},
	)

	PendingResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_pending_resolved_total",
			Help: "Admin decisions recorded on pending matches",
		},
		[]string{"decision"},
	)

	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "animehub_active_runs",
			Help: "Sync or reconcile runs currently executing",
		},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animehub_run_duration_seconds",
			Help:    "Wall time of sync and reconcile runs",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"kind", "status"},
	)

	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "animehub_ws_clients",
			Help: "Connected progress websocket clients",
		},
	)
)

func ObserveProvider(provider string, start time.Time, err error) {
	ProviderLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ProviderRequests.WithLabelValues(provider, outcome).Inc()
}

func RecordOutcome(contentType, outcome string) {
	RecordsProcessed.WithLabelValues(contentType, outcome).Inc()
}
