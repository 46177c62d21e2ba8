package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ibc_verify"

// Collector holds the verifier's metrics. A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	pollAttempts    *prometheus.CounterVec
	pollOutcomes    *prometheus.CounterVec
	swallowedErrors *prometheus.CounterVec
	waitDuration    *prometheus.HistogramVec
	violations      *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		pollAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_attempts_total",
				Help:      "Predicate evaluations, by wait description",
			},
			[]string{"wait"},
		),
		pollOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_outcomes_total",
				Help:      "Finished waits, by wait description and outcome (ready, timeout, error)",
			},
			[]string{"wait", "outcome"},
		),
		swallowedErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_swallowed_errors_total",
				Help:      "Predicate errors treated as not ready",
			},
			[]string{"wait"},
		),
		waitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wait_duration_seconds",
				Help:      "Time spent waiting for a condition",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"wait", "outcome"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invariant_violations_total",
				Help:      "Protocol invariant violations observed, by invariant",
			},
			[]string{"invariant"},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciliations_total",
				Help:      "Reconciliation reports, by scenario kind and status",
			},
			[]string{"kind", "status"},
		),
	}
	c.registry.MustRegister(
		c.pollAttempts,
		c.pollOutcomes,
		c.swallowedErrors,
		c.waitDuration,
		c.violations,
		c.reconciliations,
	)
	return c
}

// Registry exposes the registry for serving.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) PollAttempt(wait string) {
	if c == nil {
		return
	}
	c.pollAttempts.WithLabelValues(wait).Inc()
}

func (c *Collector) SwallowedError(wait string) {
	if c == nil {
		return
	}
	c.swallowedErrors.WithLabelValues(wait).Inc()
}

// WaitFinished records the outcome and duration of one wait.
func (c *Collector) WaitFinished(wait, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.pollOutcomes.WithLabelValues(wait, outcome).Inc()
	c.waitDuration.WithLabelValues(wait, outcome).Observe(elapsed.Seconds())
}

func (c *Collector) Violation(invariant string) {
	if c == nil {
		return
	}
	c.violations.WithLabelValues(invariant).Inc()
}

func (c *Collector) Reconciled(kind, status string) {
	if c == nil {
		return
	}
	c.reconciliations.WithLabelValues(kind, status).Inc()
}
