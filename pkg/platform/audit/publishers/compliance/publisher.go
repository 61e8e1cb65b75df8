// Package compliance provides a fail-closed audit publisher for regulatory events.
//
// Emit blocks until the event is accepted by the sink or durably queued for
// retry. If neither happens it returns an AuditDelivery error and the calling
// operation must fail.
//
// Use for: sensitive_data_read, personal_data_modified
package compliance

import (
	"context"
	"log/slog"
	"time"

	dErrors "keeper/pkg/domain-errors"
	audit "keeper/pkg/platform/audit"
	"keeper/pkg/platform/audit/publishers/ops"
	txcontext "keeper/pkg/platform/tx"
)

const defaultFallbackTimeout = 2 * time.Second

// Fallback durably holds events the sink rejected.
type Fallback interface {
	Push(ctx context.Context, event audit.Event) error
}

// Tracker receives an operational diagnostic each time an event is parked
// in the retry queue.
type Tracker interface {
	Track(ctx context.Context, event audit.OpsEvent)
}

// Publisher emits compliance events with fail-closed semantics.
type Publisher struct {
	sink            audit.Sink
	fallback        Fallback
	fallbackTimeout time.Duration
	tracker         Tracker
	logger          *slog.Logger
	metrics         *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithFallback sets the durable retry queue used when the sink fails.
func WithFallback(f Fallback) Option {
	return func(p *Publisher) {
		p.fallback = f
	}
}

// WithFallbackTimeout bounds the push to the retry queue.
func WithFallbackTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.fallbackTimeout = d
		}
	}
}

func WithTracker(t Tracker) Option {
	return func(p *Publisher) {
		p.tracker = t
	}
}

func New(sink audit.Sink, opts ...Option) *Publisher {
	p := &Publisher{sink: sink, fallbackTimeout: defaultFallbackTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously delivers a compliance event.
//
// Inside a transaction the outbox row is the only acceptable record: a sink
// failure is returned without queueing so the transaction rolls back and no
// event describes a write that never committed.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	start := time.Now()

	if event.Category() != audit.CategoryCompliance {
		return dErrors.New(dErrors.CodeInvariantViolation, "compliance publisher received a non-compliance event")
	}
	if err := event.Validate(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "invalid compliance event")
	}

	err := p.sink.Append(ctx, event)
	if err == nil {
		if p.metrics != nil {
			p.metrics.ObservePersistDuration(time.Since(start).Seconds())
			p.metrics.IncEventsEmitted(string(event.Kind))
		}
		return nil
	}

	if p.metrics != nil {
		p.metrics.IncPersistFailures()
	}

	_, inTx := txcontext.From(ctx)
	if p.fallback != nil && !inTx {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.fallbackTimeout)
		defer cancel()
		qErr := p.fallback.Push(fctx, event)
		if qErr == nil {
			if p.metrics != nil {
				p.metrics.IncQueuedForRetry()
			}
			p.log(ctx, slog.LevelWarn, "compliance audit queued for retry", event, err)
			if p.tracker != nil {
				p.tracker.Track(ctx, audit.OpsEvent{
					Timestamp:     time.Now().UTC(),
					Action:        ops.ActionAuditRetryQueued,
					Subject:       event.SubjectType + "/" + event.SubjectID,
					Detail:        string(event.Kind),
					CorrelationID: event.CorrelationID,
				})
			}
			return nil
		}
		p.log(ctx, slog.LevelError, "compliance audit retry queue unavailable", event, qErr)
	}

	p.log(ctx, slog.LevelError, "CRITICAL: compliance audit failed", event, err)
	return dErrors.Retry(dErrors.CodeAuditDelivery, "compliance audit delivery failed", err)
}

func (p *Publisher) log(ctx context.Context, level slog.Level, msg string, event audit.Event, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Log(ctx, level, msg,
		"log_type", "audit",
		"event_id", event.ID,
		"kind", event.Kind,
		"subject_type", event.SubjectType,
		"subject_id", event.SubjectID,
		"error", err,
	)
}

// Close is a no-op for the synchronous compliance publisher.
func (p *Publisher) Close() error {
	return nil
}
