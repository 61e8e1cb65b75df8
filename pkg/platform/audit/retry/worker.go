package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "keeper/pkg/platform/audit"
	"keeper/pkg/platform/sentinel"
)

// Metrics for the retry queue.
type Metrics struct {
	Depth     prometheus.Gauge
	Delivered prometheus.Counter
	Failures  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Depth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "keeper_audit_retry_queue_depth",
			Help: "Audit events waiting in the retry queue",
		}),
		Delivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keeper_audit_retry_delivered_total",
			Help: "Audit events delivered from the retry queue",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keeper_audit_retry_failures_total",
			Help: "Failed delivery attempts from the retry queue",
		}),
	}
}

// Worker drains the retry queue into the sink. A failed append puts the event
// back and ends the pass; the next tick tries again.
type Worker struct {
	queue    *Queue
	sink     audit.Sink
	interval time.Duration
	logger   *slog.Logger
	metrics  *Metrics
}

type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func NewWorker(queue *Queue, sink audit.Sink, opts ...Option) *Worker {
	w := &Worker{
		queue:    queue,
		sink:     sink,
		interval: 5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.WarnContext(ctx, "audit retry pass stopped", "error", err)
			}
		}
	}
}

// Drain delivers queued events until the queue is empty or a delivery fails.
// It returns the number delivered.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	delivered := 0
	defer w.observeDepth(ctx)
	for {
		event, err := w.queue.Pop(ctx)
		if errors.Is(err, sentinel.ErrQueueEmpty) {
			return delivered, nil
		}
		if err != nil {
			return delivered, err
		}
		if err := w.sink.Append(ctx, event); err != nil {
			if w.metrics != nil {
				w.metrics.Failures.Inc()
			}
			if rqErr := w.queue.Requeue(context.WithoutCancel(ctx), event); rqErr != nil {
				w.logger.ErrorContext(ctx, "CRITICAL: audit event lost from retry queue",
					"event_id", event.ID,
					"kind", event.Kind,
					"error", rqErr,
				)
			}
			return delivered, err
		}
		delivered++
		if w.metrics != nil {
			w.metrics.Delivered.Inc()
		}
	}
}

func (w *Worker) observeDepth(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	if n, err := w.queue.Len(context.WithoutCancel(ctx)); err == nil {
		w.metrics.Depth.Set(float64(n))
	}
}
