// Package security provides a non-blocking audit publisher for security events.
//
// Emit places the event in a bounded ring buffer and returns immediately; a
// background loop flushes the buffer to the sink with retry. An event that
// cannot be delivered, or that is displaced from a full buffer, is pushed to
// the fallback queue when one is configured and logged either way.
//
// Use for: security_event (denials and evaluation failures)
package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	audit "keeper/pkg/platform/audit"
)

// Fallback durably holds events the publisher could not deliver.
type Fallback interface {
	Push(ctx context.Context, event audit.Event) error
}

type Publisher struct {
	sink     audit.Sink
	buffer   *RingBuffer
	fallback Fallback
	logger   *slog.Logger
	metrics  *Metrics

	batchSize   int
	interval    time.Duration
	maxAttempts int
	backoff     time.Duration

	flushMu   sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithFallback(f Fallback) Option {
	return func(p *Publisher) {
		p.fallback = f
	}
}

// WithBuffer sets the ring buffer capacity.
func WithBuffer(capacity int) Option {
	return func(p *Publisher) {
		p.buffer = NewRingBuffer(capacity)
	}
}

// WithFlushInterval sets how often the background loop drains the buffer.
func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRetry sets delivery attempts per event and the pause between them.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Publisher) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
		p.backoff = backoff
	}
}

// New starts the background flusher. Call Close to stop it and drain.
func New(sink audit.Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink:        sink,
		logger:      slog.Default(),
		batchSize:   100,
		interval:    200 * time.Millisecond,
		maxAttempts: 3,
		backoff:     50 * time.Millisecond,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer == nil {
		p.buffer = NewRingBuffer(0)
	}
	go p.loop()
	return p
}

// Emit buffers a security event. It never blocks on the sink.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Kind != audit.KindSecurityEvent {
		return fmt.Errorf("security publisher received %s event", event.Kind)
	}
	if err := event.Validate(); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.IncEmitted(string(event.Severity))
	}
	if displaced, dropped := p.buffer.Enqueue(event); dropped {
		if p.metrics != nil {
			p.metrics.IncDropped()
		}
		p.spill(ctx, displaced, errors.New("security buffer full"))
	}
	if p.metrics != nil {
		p.metrics.SetBufferLen(p.buffer.Len())
	}
	return nil
}

// Flush delivers everything currently buffered. It returns an error naming
// how many events could not be delivered to the sink.
func (p *Publisher) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	failed := 0
	for {
		batch := p.buffer.DequeueBatch(p.batchSize)
		if len(batch) == 0 {
			break
		}
		for _, event := range batch {
			if err := p.deliver(ctx, event); err != nil {
				failed++
				p.spill(ctx, event, err)
			}
		}
	}
	if p.metrics != nil {
		p.metrics.SetBufferLen(p.buffer.Len())
	}
	if failed > 0 {
		return fmt.Errorf("%d security events not delivered to sink", failed)
	}
	return nil
}

func (p *Publisher) deliver(ctx context.Context, event audit.Event) error {
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err = p.sink.Append(ctx, event); err == nil {
			return nil
		}
		if attempt < p.maxAttempts && p.backoff > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(p.backoff * time.Duration(attempt)):
			}
		}
	}
	if p.metrics != nil {
		p.metrics.IncPersistFailures()
	}
	return err
}

// spill hands an undeliverable event to the fallback queue. If that is not
// possible the event is written to the log so it is never silently lost.
func (p *Publisher) spill(ctx context.Context, event audit.Event, cause error) {
	if p.fallback != nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err := p.fallback.Push(fctx, event)
		cancel()
		if err == nil {
			p.logger.WarnContext(ctx, "security audit queued for retry",
				"log_type", "audit",
				"event_id", event.ID,
				"error", cause,
			)
			return
		}
		cause = errors.Join(cause, err)
	}
	p.logger.ErrorContext(ctx, "CRITICAL: security audit event not delivered",
		"log_type", "audit",
		"event_id", event.ID,
		"actor", event.Actor,
		"subject_type", event.SubjectType,
		"subject_id", event.SubjectID,
		"action", event.Action,
		"reason", event.Reason,
		"severity", event.Severity,
		"error", cause,
	)
}

func (p *Publisher) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Flush(ctx); err != nil {
				p.logger.Warn("security audit flush incomplete", "error", err)
			}
			cancel()
		}
	}
}

// Close stops the background loop and drains the buffer.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = p.Flush(ctx)
	})
	return err
}

// Dropped reports how many events were displaced from a full buffer.
func (p *Publisher) Dropped() int64 {
	return p.buffer.Dropped()
}
