// Package metrics provides a Prometheus-backed implementation of the
// mutkit.MetricsCollector interface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c0deZ3R0/go-mutation-kit/mutkit"
)

// PrometheusCollector exports reconciliation metrics to a Prometheus
// registry.
type PrometheusCollector struct {
	submits     *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	conflicts   prometheus.Counter
	resolutions *prometheus.CounterVec
	discarded   prometheus.Counter
}

var _ mutkit.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a collector and registers its metrics with
// reg. Pass prometheus.DefaultRegisterer for the process-global registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mutkit",
			Name:      "operations_submitted_total",
			Help:      "Operations submitted, by kind.",
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mutkit",
			Name:      "operations_settled_total",
			Help:      "Operations reaching a terminal status, by status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mutkit",
			Name:      "operation_duration_seconds",
			Help:      "Time from submission to terminal status, by status.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mutkit",
			Name:      "retries_total",
			Help:      "Executor retries after transient failures, by operation kind.",
		}, []string{"kind"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mutkit",
			Name:      "conflicts_total",
			Help:      "Conflicts reported by the executor.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mutkit",
			Name:      "resolutions_total",
			Help:      "Conflict resolutions, by policy decision.",
		}, []string{"decision"}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mutkit",
			Name:      "discarded_outcomes_total",
			Help:      "Late executor outcomes dropped after cancel or shutdown.",
		}),
	}

	reg.MustRegister(
		c.submits,
		c.outcomes,
		c.duration,
		c.retries,
		c.conflicts,
		c.resolutions,
		c.discarded,
	)
	return c
}

func (c *PrometheusCollector) RecordSubmit(kind string) {
	c.submits.WithLabelValues(kind).Inc()
}

func (c *PrometheusCollector) RecordOutcome(status string, duration time.Duration) {
	c.outcomes.WithLabelValues(status).Inc()
	c.duration.WithLabelValues(status).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordRetry(kind string) {
	c.retries.WithLabelValues(kind).Inc()
}

func (c *PrometheusCollector) RecordConflict() {
	c.conflicts.Inc()
}

func (c *PrometheusCollector) RecordResolution(decision string) {
	c.resolutions.WithLabelValues(decision).Inc()
}

func (c *PrometheusCollector) RecordDiscardedOutcome() {
	c.discarded.Inc()
}
