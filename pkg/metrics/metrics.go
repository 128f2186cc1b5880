// Package metrics registers the Prometheus instrumentation for the overlay
// engine, wired the way Nextdoor-veneer wires prometheus/client_golang:
// package-level metric vars registered against a Registry at construction
// time, with Inc()/Observe() calls colocated with the glog call at each
// call site in pkg/overlay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the counters and gauges the overlay engine updates on
// every apply/remove.
type Metrics struct {
	AppliesTotal   prometheus.Counter
	ApplyFailures  prometheus.Counter
	RemovesTotal   prometheus.Counter
	RemoveFailures prometheus.Counter
	LatchTrips     prometheus.Counter
	NotTopmost     prometheus.Counter
	RegistryDepth  prometheus.Gauge
	ApplyDuration  prometheus.Histogram
	RemoveDuration prometheus.Histogram
}

// New creates the metric collectors and registers them against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AppliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtoverlay",
			Name:      "applies_total",
			Help:      "Total number of successful overlay applies.",
		}),
		ApplyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtoverlay",
			Name:      "apply_failures_total",
			Help:      "Total number of failed overlay apply attempts.",
		}),
		RemovesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtoverlay",
			Name:      "removes_total",
			Help:      "Total number of successful overlay removes.",
		}),
		RemoveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtoverlay",
			Name:      "remove_failures_total",
			Help:      "Total number of failed overlay remove attempts.",
		}),
		LatchTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtoverlay",
			Name:      "corruption_latch_trips_total",
			Help:      "Total number of times the global corruption latch was set.",
		}),
		NotTopmost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtoverlay",
			Name:      "remove_rejected_not_topmost_total",
			Help:      "Total number of remove attempts rejected because the overlay was not topmost.",
		}),
		RegistryDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dtoverlay",
			Name:      "registry_depth",
			Help:      "Current number of applied overlays in the registry.",
		}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dtoverlay",
			Name:      "apply_duration_seconds",
			Help:      "Latency of overlay apply operations.",
		}),
		RemoveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dtoverlay",
			Name:      "remove_duration_seconds",
			Help:      "Latency of overlay remove operations.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.AppliesTotal, m.ApplyFailures, m.RemovesTotal, m.RemoveFailures,
			m.LatchTrips, m.NotTopmost, m.RegistryDepth, m.ApplyDuration, m.RemoveDuration,
		)
	}
	return m
}

// Noop returns a Metrics whose collectors are never registered against any
// registry, for use by callers (and tests) that don't want a metrics
// endpoint at all.
func Noop() *Metrics {
	return New(nil)
}
