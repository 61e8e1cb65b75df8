// Package ops tracks operational diagnostics such as evaluations that did not
// complete. Tracking is fire-and-forget: events are sampled, a circuit breaker
// sheds load while the sink is unhealthy, and failures only reach the log.
package ops

import (
	"context"
	"log/slog"
	"time"

	audit "keeper/pkg/platform/audit"
)

// Actions tracked by the request path.
const (
	ActionEvaluationIncomplete = "evaluation_incomplete"
	ActionStorageConflict      = "storage_conflict"
	ActionAuditRetryQueued     = "audit_retry_queued"
)

type Tracker struct {
	sink    audit.OpsSink
	sampler *Sampler
	breaker *CircuitBreaker
	metrics *Metrics
	logger  *slog.Logger
	timeout time.Duration
}

type Option func(*Tracker)

func WithSampler(s *Sampler) Option {
	return func(t *Tracker) {
		t.sampler = s
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(t *Tracker) {
		t.breaker = cb
	}
}

func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func New(sink audit.OpsSink, opts ...Option) *Tracker {
	t := &Tracker{
		sink:    sink,
		sampler: &Sampler{},
		breaker: NewCircuitBreaker(5, 30*time.Second),
		logger:  slog.Default(),
		timeout: time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track records an ops event. Every event is logged at warn level before
// sampling so the diagnostic is visible even when the sink is skipped.
func (t *Tracker) Track(ctx context.Context, event audit.OpsEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	t.logger.WarnContext(ctx, "operational diagnostic",
		"action", event.Action,
		"subject", event.Subject,
		"detail", event.Detail,
		"request_id", event.CorrelationID,
	)

	if !t.sampler.Keep(event.Action) {
		t.metrics.observe(event.Action, outcomeSampled, t.breaker.State())
		return
	}
	if !t.breaker.Allow() {
		t.metrics.observe(event.Action, outcomeShed, t.breaker.State())
		return
	}

	// The request context may already be past its deadline; that is often
	// the very thing being reported.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()
	err := t.sink.AppendOps(sctx, event)
	t.breaker.Record(err)
	if err != nil {
		t.metrics.observe(event.Action, outcomeFailed, t.breaker.State())
		t.logger.DebugContext(ctx, "ops event not persisted", "action", event.Action, "error", err)
		return
	}
	t.metrics.observe(event.Action, outcomePersisted, t.breaker.State())
}
