// Package metrics exposes the Prometheus counters and histograms every
// Kenny component registers on its own /metrics endpoint, grounded on
// wisbric-nightowl's internal/telemetry/metrics.go: package-level
// collectors plus an All() slice for registration.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "kenny",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds, by component and route.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"component", "route", "status"},
)

var RegistrationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kenny",
		Subsystem: "registry",
		Name:      "registrations_total",
		Help:      "Total number of agent registration attempts, by outcome.",
	},
	[]string{"outcome"},
)

var CapabilityCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kenny",
		Subsystem: "coordinator",
		Name:      "capability_calls_total",
		Help:      "Total number of capability calls dispatched by the Executor, by verb and status.",
	},
	[]string{"verb", "status"},
)

var PlansProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kenny",
		Subsystem: "coordinator",
		Name:      "plans_processed_total",
		Help:      "Total number of Plans processed, by strategy.",
	},
	[]string{"strategy"},
)

var GatewayRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kenny",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Total number of Gateway query requests, by route (direct/coordinator).",
	},
	[]string{"route"},
)

var SecurityEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kenny",
		Subsystem: "security",
		Name:      "events_total",
		Help:      "Total number of security events recorded, by kind and severity.",
	},
	[]string{"kind", "severity"},
)

var SecurityActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kenny",
		Subsystem: "security",
		Name:      "actions_total",
		Help:      "Total number of automated response actions dispatched, by action.",
	},
	[]string{"action"},
)

// All returns every Kenny metric for registration against a
// prometheus.Registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		RegistrationsTotal,
		CapabilityCallsTotal,
		PlansProcessedTotal,
		GatewayRequestsTotal,
		SecurityEventsTotal,
		SecurityActionsTotal,
	}
}
