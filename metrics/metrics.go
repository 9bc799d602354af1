// Package metrics exposes prometheus instrumentation for the pipeline
// engine: transition counts, job outcomes and durations, and circuit
// breaker state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DICKY1987/pipeline-core/breaker"
	"github.com/DICKY1987/pipeline-core/statemachine"
)

// Metrics holds the engine's collectors, registered on construction.
type Metrics struct {
	Transitions  *prometheus.CounterVec
	Jobs         *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	BreakerState *prometheus.GaugeVec
}

// New registers the engine collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_state_transitions_total",
			Help: "State machine transitions by entity type, target state, and severity.",
		}, []string{"entity_type", "to_state", "severity"}),
		Jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_jobs_total",
			Help: "Jobs processed by tool and outcome.",
		}, []string{"tool", "outcome"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Job execution duration by tool.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"tool"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_breaker_state",
			Help: "Circuit breaker state per tool (0 closed, 1 half_open, 2 open).",
		}, []string{"tool"}),
	}
}

// ObserveJob records one job outcome.
func (m *Metrics) ObserveJob(tool, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(tool, outcome).Inc()
	m.JobDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// SetBreakerState records a breaker's current state.
func (m *Metrics) SetBreakerState(tool string, state statemachine.State) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case breaker.StateHalfOpen:
		v = 1
	case breaker.StateOpen:
		v = 2
	}
	m.BreakerState.WithLabelValues(tool).Set(v)
}

// TransitionSink adapts Metrics into a statemachine.EventSink so transition
// counts update alongside persisted events.
type TransitionSink struct {
	metrics *Metrics
}

// NewTransitionSink creates a sink counting transitions on m.
func NewTransitionSink(m *Metrics) *TransitionSink {
	return &TransitionSink{metrics: m}
}

// Emit counts the transition.
func (s *TransitionSink) Emit(e statemachine.Event) {
	if s.metrics == nil {
		return
	}
	s.metrics.Transitions.WithLabelValues(e.EntityType, string(e.To), string(e.Severity)).Inc()
}

var _ statemachine.EventSink = (*TransitionSink)(nil)
