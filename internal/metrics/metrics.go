package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the lifecycle collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry.
type Metrics struct {
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	payouts     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bountyline",
				Subsystem: "lifecycle",
				Name:      "transitions_total",
				Help:      "Lifecycle operations by operation and outcome kind.",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bountyline",
				Subsystem: "lifecycle",
				Name:      "transition_duration_seconds",
				Help:      "Duration of lifecycle operations including storage.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"operation"},
		),
		payouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bountyline",
				Subsystem: "payout",
				Name:      "triggers_total",
				Help:      "Payout hook invocations by result.",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.duration, m.payouts)
	}
	return m
}

// ObserveTransition records one operation. outcome is "ok" or an error kind.
func (m *Metrics) ObserveTransition(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObservePayout records a payout hook result: "ok", "failed" or "reconciled".
func (m *Metrics) ObservePayout(result string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(result).Inc()
}
