// Package observability exposes engine activity as Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/internal/delivery"
	"github.com/satriahrh/scribe/internal/runner"
	"github.com/satriahrh/scribe/internal/session"
	"github.com/satriahrh/scribe/usecase"
)

// Metrics holds all Prometheus metrics for the scribe
type Metrics struct {
	DispatchDecisionsTotal *prometheus.CounterVec
	SessionOutcomesTotal   *prometheus.CounterVec
	TransitionsTotal       *prometheus.CounterVec
	CaptionsTotal          prometheus.Counter
	ActiveSessionsGauge    prometheus.Gauge
	DeliveryStepSeconds    *prometheus.HistogramVec
}

var (
	_ usecase.DispatchObserver = &Metrics{}
	_ session.Observer         = &Metrics{}
	_ runner.Observer          = &Metrics{}
	_ delivery.StepObserver    = &Metrics{}
)

// NewMetrics creates the metric set on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DispatchDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_dispatch_decisions_total",
				Help: "Dispatch decisions by kind",
			},
			[]string{"decision"},
		),
		SessionOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_session_outcomes_total",
				Help: "Finished sessions by end reason",
			},
			[]string{"outcome"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_session_transitions_total",
				Help: "Session state transitions",
			},
			[]string{"from", "to"},
		),
		CaptionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scribe_captions_total",
				Help: "Captions produced across all sessions",
			},
		),
		ActiveSessionsGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scribe_active_sessions",
				Help: "Sessions currently running",
			},
		),
		DeliveryStepSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scribe_delivery_step_seconds",
				Help:    "Delivery step latency by outcome",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"step", "state"},
		),
	}
}

func (m *Metrics) DispatchDecision(decision string) {
	m.DispatchDecisionsTotal.WithLabelValues(decision).Inc()
}

func (m *Metrics) SessionTransition(from, to entities.SessionState) {
	m.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) CaptionsProduced(n int) {
	if n > 0 {
		m.CaptionsTotal.Add(float64(n))
	}
}

func (m *Metrics) ActiveSessions(n int) {
	m.ActiveSessionsGauge.Set(float64(n))
}

func (m *Metrics) SessionEnded(outcome string) {
	m.SessionOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DeliveryStep(step delivery.StepID, state delivery.StepState, elapsed time.Duration) {
	m.DeliveryStepSeconds.WithLabelValues(string(step), string(state)).Observe(elapsed.Seconds())
}
