package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of a tracked diagnostic.
const (
	outcomePersisted = "persisted"
	outcomeSampled   = "sampled_out"
	outcomeShed      = "shed"
	outcomeFailed    = "failed"
)

// Metrics counts diagnostics by action and by what happened to them.
type Metrics struct {
	Events       *prometheus.CounterVec
	BreakerState prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Events: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_ops_diagnostics_total",
			Help: "Operational diagnostics by action and outcome (persisted, sampled_out, shed, failed)",
		}, []string{"action", "outcome"}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "keeper_ops_sink_breaker_state",
			Help: "Ops sink circuit breaker state (0=closed, 1=open, 2=half_open)",
		}),
	}
}

func (m *Metrics) observe(action, outcome string, state BreakerState) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(action, outcome).Inc()
	m.BreakerState.Set(float64(state))
}
