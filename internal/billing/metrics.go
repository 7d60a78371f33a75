package billing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus instrumentation of the engine. A nil *Metrics is a no-op.
type Metrics struct {
	transitions   *prometheus.CounterVec
	sweepItems    *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	capability    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "state",
				Name:      "transitions_total",
				Help:      "State transitions applied, by entity and target status",
			},
			[]string{"entity", "from", "to"},
		),
		sweepItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "sweep",
				Name:      "items_total",
				Help:      "Items visited by reconciliation sweeps, by outcome",
			},
			[]string{"sweep", "outcome"},
		),
		sweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "billing",
				Subsystem: "sweep",
				Name:      "duration_seconds",
				Help:      "Wall time of a reconciliation sweep",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sweep"},
		),
		capability: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "capability",
				Name:      "calls_total",
				Help:      "Grant and revoke calls to the role service, by result",
			},
			[]string{"action", "result"},
		),
	}

	reg.MustRegister(m.transitions, m.sweepItems, m.sweepDuration, m.capability)
	return m
}

func (m *Metrics) transition(entity, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, from, to).Inc()
}

func (m *Metrics) sweep(r SweepResult, d time.Duration) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(r.Sweep, "changed").Add(float64(r.Changed))
	m.sweepItems.WithLabelValues(r.Sweep, "unchanged").Add(float64(r.Checked - r.Changed - r.Failed))
	m.sweepItems.WithLabelValues(r.Sweep, "failed").Add(float64(r.Failed))
	m.sweepDuration.WithLabelValues(r.Sweep).Observe(d.Seconds())
}

func (m *Metrics) capabilityCall(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.capability.WithLabelValues(action, result).Inc()
}
