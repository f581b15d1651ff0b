// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OAuthHandshakesTotal tracks oauth handshake steps by outcome
	OAuthHandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "oauth",
			Name:      "handshakes_total",
			Help:      "Total number of oauth handshake steps by provider, step and outcome",
		},
		[]string{"provider", "step", "outcome"},
	)

	// TokensRevokedTotal tracks access tokens dropped after the provider rejected them
	TokensRevokedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "oauth",
			Name:      "tokens_revoked_total",
			Help:      "Total number of access tokens revoked after rejection",
		},
		[]string{"provider"},
	)

	// ProviderRequestsTotal tracks outbound provider requests
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of outbound provider requests",
		},
		[]string{"provider", "method", "status_code"},
	)

	// ProviderRequestDuration tracks outbound provider request duration
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound provider requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "method"},
	)

	// ImportedIssuesTotal tracks reconciled issues by outcome
	ImportedIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "issues_total",
			Help:      "Total number of imported issues by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ImportDuration tracks board import duration in seconds
	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Duration of board imports in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)

	// ImportsInFlight tracks imports currently running
	ImportsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "in_flight",
			Help:      "Number of board imports currently running",
		},
	)

	// EventsPublishedTotal tracks domain events sent to kafka
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of domain events published by type and status",
		},
		[]string{"event_type", "status"},
	)
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
