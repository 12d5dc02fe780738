package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	CSRFAttemptsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "secwatch_csrf_attempts_total",
			Help: "CSRF probe attempts tracked, by outcome",
		},
		[]string{"outcome"}, // ok, warning, blocked
	)

	LoginFailuresTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "secwatch_login_failures_total",
			Help: "Failed login attempts recorded",
		},
	)

	BlocksAppliedTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "secwatch_blocks_applied_total",
			Help: "Block entries created, by subject type",
		},
		[]string{"subject_type"},
	)

	SuspiciousIPAlertsTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "secwatch_suspicious_ip_alerts_total",
			Help: "Suspicious IP case files that crossed the alert threshold",
		},
	)

	AnomalyReportsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "secwatch_anomaly_reports_total",
			Help: "Anomaly reports produced, by type and severity",
		},
		[]string{"type", "severity"},
	)

	StoreDegradationsTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "secwatch_store_degradations_total",
			Help: "Store failures degraded to fail-open defaults",
		},
	)
)

// Registry exposes the metrics registry so the embedding process can serve
// it; this engine carries no HTTP surface of its own.
func Registry() *prometheus.Registry {
	return registry
}
