// Package metrics provides Prometheus metrics for emberwatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "emberwatch"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Ingest metrics
var (
	// IngestEventsReceived counts events accepted at the ingest boundary.
	IngestEventsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_received_total",
			Help:      "Total cluster events accepted for processing",
		},
	)

	// IngestEventsRejected counts events rejected at the ingest boundary.
	IngestEventsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_rejected_total",
			Help:      "Total cluster events rejected as malformed",
		},
	)
)

// Pipeline metrics
var (
	// EventsProcessedTotal counts processed events by outcome.
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_processed_total",
			Help:      "Total events run through the anomaly filter, by outcome",
		},
		[]string{"outcome"}, // anomalous, quiet, muted, duplicate, invalid, failed
	)

	// DecisionsTotal counts anomalous decisions by reason.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "decisions_total",
			Help:      "Total anomalous decisions, by reason",
		},
		[]string{"reason"},
	)

	// QueueDepth tracks events waiting in the ingest queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Events waiting in the ingest queue",
		},
	)

	// QueueRedeliveredTotal counts events redelivered after a processing failure.
	QueueRedeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "queue_redelivered_total",
			Help:      "Total events redelivered after a processing failure",
		},
	)

	// QueueDeadLetteredTotal counts events dropped after exhausting deliveries.
	QueueDeadLetteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "queue_dead_lettered_total",
			Help:      "Total events dropped after exhausting redeliveries",
		},
	)
)

// Store metrics
var (
	// StoreConflictsTotal counts version conflicts on conditional merges.
	StoreConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "conflicts_total",
			Help:      "Total version conflicts on signature merges",
		},
	)
)

// Archive buffer metrics
var (
	// ArchivePending tracks records waiting to be flushed to the archive.
	ArchivePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "pending_records",
			Help:      "Event records waiting to be flushed to the archive",
		},
	)

	// ArchiveDroppedTotal counts records dropped due to backpressure.
	ArchiveDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "dropped_total",
			Help:      "Total records dropped due to archive buffer overflow",
		},
	)

	// ArchiveFlushesTotal counts flush operations.
	ArchiveFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "flushes_total",
			Help:      "Total archive buffer flush operations",
		},
	)

	// ArchiveInsertedTotal counts successfully archived records.
	ArchiveInsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "inserted_total",
			Help:      "Total records inserted into the archive",
		},
	)

	// ArchiveFlushErrors counts flush errors.
	ArchiveFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "flush_errors_total",
			Help:      "Total archive flush errors",
		},
	)
)

// Publisher metrics
var (
	// AlertsPublishedTotal counts delivered alerts by reason.
	AlertsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "alerts_total",
			Help:      "Total alerts delivered downstream, by reason",
		},
		[]string{"reason"},
	)

	// AlertsSuppressedTotal counts alerts suppressed before delivery.
	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "alerts_suppressed_total",
			Help:      "Total alerts suppressed before delivery, by cause",
		},
		[]string{"cause"}, // duplicate, muted
	)

	// AlertsUndeliveredTotal counts alerts that exhausted send retries.
	AlertsUndeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "alerts_undelivered_total",
			Help:      "Total alerts that exhausted their send retries",
		},
	)

	// PublishRetriesTotal counts send retries.
	PublishRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "retries_total",
			Help:      "Total alert send retries",
		},
	)
)

// Auth metrics
var (
	// AuthAttemptsTotal counts authentication attempts.
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Total authentication attempts",
		},
		[]string{"result"}, // success, failure
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
