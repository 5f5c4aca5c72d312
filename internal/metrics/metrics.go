// Package metrics exposes Prometheus metrics and the operational HTTP
// endpoints (/metrics, /health, probes).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersTotal counts order placements by venue, side, and resulting
	// common status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerhub_orders_total",
		Help: "Order placements by provider, side, and resulting status",
	}, []string{"provider", "side", "status"})

	// CancelsTotal counts cancel requests by venue.
	CancelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerhub_cancels_total",
		Help: "Cancel requests by provider",
	}, []string{"provider"})

	// UncertainSubmissionsTotal counts placements whose outcome was
	// unknown at submit time and went through the recovery probe.
	UncertainSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerhub_uncertain_submissions_total",
		Help: "Submissions with unknown outcome, by provider and probe result",
	}, []string{"provider", "result"})

	// ReconciliationRuns counts reconciliation passes and their outcome.
	ReconciliationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerhub_reconciliation_runs_total",
		Help: "Reconciliation passes by outcome",
	}, []string{"outcome"})

	// SessionState reports the connection supervisor state per provider
	// (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed).
	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "brokerhub_session_state",
		Help: "Connection supervisor state per provider",
	}, []string{"provider"})

	// RoutingResolves counts account resolutions by provider and source.
	RoutingResolves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerhub_routing_resolves_total",
		Help: "Account resolutions by provider and source (hint or poll)",
	}, []string{"provider", "source"})

	// OrderLatency observes end-to-end placement latency in seconds.
	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "brokerhub_order_latency_seconds",
		Help:    "Order placement latency",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// ErrorsTotal counts errors by type.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerhub_errors_total",
		Help: "Errors by type",
	}, []string{"type"})
)
