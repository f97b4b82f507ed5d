// Package metrics holds the Prometheus collectors for the sealing, signing
// and archival pipeline. Collectors are registered on an explicit registerer
// so tests can use a private registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "contractvault"

type Metrics struct {
	// Seals counts sealing writes by disk role (primary, fallback) and outcome.
	Seals *prometheus.CounterVec
	// Signatures counts signature attempts by outcome.
	Signatures *prometheus.CounterVec
	// Archivals counts WORM archival attempts by outcome.
	Archivals *prometheus.CounterVec
	// Verifications counts verifier runs by status.
	Verifications *prometheus.CounterVec
	// IntegrityAlerts counts CRITICAL alerts by violation kind.
	IntegrityAlerts *prometheus.CounterVec
	SweepDuration   prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Seals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seal_writes_total",
			Help:      "Sealed document writes by disk role and outcome.",
		}, []string{"role", "outcome"}),
		Signatures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_total",
			Help:      "Signature submissions by outcome.",
		}, []string{"outcome"}),
		Archivals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archivals_total",
			Help:      "WORM archival attempts by outcome.",
		}, []string{"outcome"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Integrity verifications by status.",
		}, []string{"status"}),
		IntegrityAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_alerts_total",
			Help:      "CRITICAL integrity alerts by violation kind.",
		}, []string{"kind"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of integrity sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}
