// Package metrics holds the Prometheus collectors for reconciliation, alert
// evaluation, notification dispatch and ingestion.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsNamespace prefixes every collector.
const MetricsNamespace = "price_tracker"

// Reconcile outcomes.
const (
	OutcomeCreated  = "created"
	OutcomeUpdated  = "updated"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics holds all collectors.
type Metrics struct {
	// Reconciliation
	ReconcileTotal     *prometheus.CounterVec
	ReconcileConflicts prometheus.Counter
	ReconcileDuration  prometheus.Histogram

	// Alerts
	AlertsTriggered           *prometheus.CounterVec
	NotificationsDeduplicated prometheus.Counter
	DispatchFailures          prometheus.Counter

	// Ingestion
	IngestSourceFailures *prometheus.CounterVec

	// HTTP
	RateLimited prometheus.Counter
}

// New creates and registers the collectors on reg. A nil reg registers on
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.ReconcileTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "reconcile_total",
			Help:      "Reconciled candidates by outcome",
		},
		[]string{"outcome"},
	)
	m.ReconcileConflicts = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "reconcile_conflicts_total",
			Help:      "Identity or offer uniqueness conflicts retried by the reconciler",
		},
	)
	m.ReconcileDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of one reconciliation including retries",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	m.AlertsTriggered = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "alerts_triggered_total",
			Help:      "Alert rules whose condition held, by rule type",
		},
		[]string{"rule"},
	)
	m.NotificationsDeduplicated = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "notifications_deduplicated_total",
			Help:      "Triggers dropped because their notification already existed",
		},
	)
	m.DispatchFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "notifications_dispatch_failures_total",
			Help:      "Notification deliveries that failed",
		},
	)

	m.IngestSourceFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "ingest_source_failures_total",
			Help:      "Sources that failed during ingestion",
		},
		[]string{"source"},
	)

	m.RateLimited = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
	)

	return m
}

// ObserveReconcile records one reconciliation.
func (m *Metrics) ObserveReconcile(outcome string, started time.Time) {
	m.ReconcileTotal.WithLabelValues(outcome).Inc()
	m.ReconcileDuration.Observe(time.Since(started).Seconds())
}
