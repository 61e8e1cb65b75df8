package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes.
const (
	OutcomeAllow    = "allow"
	OutcomeDeny     = "deny"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Metrics covers mediated requests end to end: fetch, evaluation, write and audit.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ListFiltered    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_mediator_requests_total",
			Help: "Mediated requests by operation and outcome",
		}, []string{"operation", "outcome"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keeper_mediator_request_duration_seconds",
			Help:    "Duration of mediated requests including storage and audit delivery",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),

		ListFiltered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keeper_mediator_list_filtered_total",
			Help: "Instances withheld from list results by instance-level policy",
		}),
	}
}

func (m *Metrics) ObserveRequest(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(operation, outcome).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) AddListFiltered(n int) {
	if m != nil && n > 0 {
		m.ListFiltered.Add(float64(n))
	}
}
