package gateway

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/billing/internal/billing"
)

// Metrics instruments processor calls. A nil *Metrics is a no-op.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
	breaker  *prometheus.GaugeVec
}

// NewMetrics creates the gateway collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Payment processor operations by result (ok, rejected, unavailable)",
			},
			[]string{"operation", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "billing",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Wall time of processor operations including retries",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "gateway",
				Name:      "retries_total",
				Help:      "Retried processor attempts",
			},
			[]string{"operation"},
		),
		breaker: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "billing",
				Subsystem: "gateway",
				Name:      "breaker_open",
				Help:      "1 while the processor circuit breaker is open or half-open",
			},
			[]string{"name"},
		),
	}
	reg.MustRegister(m.requests, m.duration, m.retries, m.breaker)
	return m
}

func (m *Metrics) observe(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, billing.ErrGatewayRejected):
		result = "rejected"
	case err != nil:
		result = "unavailable"
	}
	m.requests.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) retry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) breakerState(name, to string) {
	if m == nil {
		return
	}
	open := 0.0
	if to != "closed" {
		open = 1
	}
	m.breaker.WithLabelValues(name).Set(open)
}
