package security

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for security audit delivery.
type Metrics struct {
	Emitted         *prometheus.CounterVec
	Dropped         prometheus.Counter
	PersistFailures prometheus.Counter
	BufferLen       prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Emitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_audit_security_events_total",
			Help: "Security audit events emitted, by severity",
		}, []string{"severity"}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keeper_audit_security_buffer_dropped_total",
			Help: "Security audit events displaced from a full buffer",
		}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keeper_audit_security_persist_failures_total",
			Help: "Security audit events the sink rejected after retries",
		}),
		BufferLen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "keeper_audit_security_buffer_length",
			Help: "Security audit events waiting to be flushed",
		}),
	}
}

func (m *Metrics) IncEmitted(severity string) { m.Emitted.WithLabelValues(severity).Inc() }
func (m *Metrics) IncDropped()                { m.Dropped.Inc() }
func (m *Metrics) IncPersistFailures()        { m.PersistFailures.Inc() }
func (m *Metrics) SetBufferLen(n int)         { m.BufferLen.Set(float64(n)) }
