package tick

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects tick telemetry on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal      *prometheus.CounterVec
	TickDuration    prometheus.Histogram
	SubTickFailures *prometheus.CounterVec
}

// NewMetrics creates the tick collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worldcore",
			Subsystem: "tick",
			Name:      "runs_total",
			Help:      "Tick attempts by outcome (ok, error, skipped)",
		},
		[]string{"outcome"},
	)

	m.TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "worldcore",
			Subsystem: "tick",
			Name:      "duration_seconds",
			Help:      "Time taken by one tick, lock to status write",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	m.SubTickFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worldcore",
			Subsystem: "tick",
			Name:      "subtick_failures_total",
			Help:      "Sub-tick units rolled back to their savepoint",
		},
		[]string{"subtick"},
	)

	m.registry.MustRegister(m.TicksTotal, m.TickDuration, m.SubTickFailures)
	return m
}

// Registry exposes the private registry for an exporter endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
