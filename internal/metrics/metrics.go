// Package metrics defines Prometheus metrics for the metering and ledger
// core. Metrics are registered via promauto at package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reelgauge"

// Admission metrics
var (
	RateLimitChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_checks_total",
			Help:      "Rate limit checks by operation class and outcome",
		},
		[]string{"class", "outcome"},
	)

	EntitlementDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_decisions_total",
			Help:      "Entitlement decisions by reason",
		},
		[]string{"reason"},
	)

	BonusCreditsGranted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bonus_credits_granted_total",
			Help:      "Bonus credits granted by grant reason",
		},
		[]string{"reason"},
	)
)

// Webhook and ledger metrics
var (
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Billing webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	WebhookRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_rejected_total",
			Help:      "Webhook deliveries rejected before dispatch (bad signature or payload)",
		},
	)

	LedgerEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Commission ledger writes by outcome (recorded or duplicate no-op)",
		},
		[]string{"outcome"},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)
