package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for compliance audit delivery.
type Metrics struct {
	EventsEmitted   *prometheus.CounterVec
	PersistFailures prometheus.Counter
	QueuedForRetry  prometheus.Counter
	PersistDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_audit_compliance_events_total",
			Help: "Compliance audit events accepted by the sink, by kind",
		}, []string{"kind"}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keeper_audit_compliance_persist_failures_total",
			Help: "Compliance audit sink failures",
		}),
		QueuedForRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keeper_audit_compliance_queued_total",
			Help: "Compliance audit events diverted to the retry queue",
		}),
		PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "keeper_audit_compliance_persist_duration_seconds",
			Help:    "Time to persist a compliance audit event",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncEventsEmitted(kind string) {
	m.EventsEmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncPersistFailures() {
	m.PersistFailures.Inc()
}

func (m *Metrics) IncQueuedForRetry() {
	m.QueuedForRetry.Inc()
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	m.PersistDuration.Observe(seconds)
}
