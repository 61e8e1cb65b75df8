package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for policy evaluation.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	EvalErrors      *prometheus.CounterVec
	EvaluateLatency prometheus.Histogram
	Reloads         *prometheus.CounterVec
}

// New registers the policy metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_policy_decisions_total",
			Help: "Policy decisions by outcome, operation and entity type",
		}, []string{"outcome", "operation", "entity_type"}),

		EvalErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_policy_evaluation_errors_total",
			Help: "Predicate or guard condition failures converted to Deny",
		}, []string{"entity_type"}),

		EvaluateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "keeper_policy_evaluate_duration_seconds",
			Help:    "Duration of a single policy evaluation",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),

		Reloads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_policy_reloads_total",
			Help: "Policy model swaps by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncrementDecision(outcome, operation, entityType string) {
	if m != nil {
		m.Decisions.WithLabelValues(outcome, operation, entityType).Inc()
	}
}

func (m *Metrics) IncrementEvalError(entityType string) {
	if m != nil {
		m.EvalErrors.WithLabelValues(entityType).Inc()
	}
}

func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementReload(result string) {
	if m != nil {
		m.Reloads.WithLabelValues(result).Inc()
	}
}
