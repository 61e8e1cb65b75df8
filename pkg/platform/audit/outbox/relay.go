// Package outbox relays committed audit events from the Postgres outbox table
// to Kafka. Rows are claimed with FOR UPDATE SKIP LOCKED so several relays can
// run side by side; a row is marked processed only after Kafka acknowledged it.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Producer publishes an encoded audit event.
type Producer interface {
	PublishRaw(ctx context.Context, key, kind string, payload []byte) error
}

type Relay struct {
	db       *sql.DB
	producer Producer
	batch    int
	interval time.Duration
	logger   *slog.Logger
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func NewRelay(db *sql.DB, producer Producer, opts ...Option) *Relay {
	r := &Relay{
		db:       db,
		producer: producer,
		batch:    100,
		interval: time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				n, err := r.RelayOnce(ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						r.logger.WarnContext(ctx, "outbox relay pass failed", "error", err)
					}
					break
				}
				if n < r.batch {
					break
				}
			}
		}
	}
}

type row struct {
	id            string
	aggregateType string
	aggregateID   string
	eventType     string
	payload       []byte
}

// RelayOnce publishes one batch and returns how many rows were published.
// Rows published before a failure are still marked processed.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id::text, aggregate_type, aggregate_id, event_type, payload
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batch)
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}
	var pending []row
	for rows.Next() {
		var rw row
		if err := rows.Scan(&rw.id, &rw.aggregateType, &rw.aggregateID, &rw.eventType, &rw.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		pending = append(pending, rw)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	published := make([]string, 0, len(pending))
	var publishErr error
	for _, rw := range pending {
		key := rw.aggregateType + "/" + rw.aggregateID
		if err := r.producer.PublishRaw(ctx, key, rw.eventType, rw.payload); err != nil {
			publishErr = fmt.Errorf("publish outbox row %s: %w", rw.id, err)
			break
		}
		published = append(published, rw.id)
	}

	if len(published) > 0 {
		_, err := tx.ExecContext(ctx, `
			UPDATE outbox SET processed_at = $2 WHERE id = ANY($1::uuid[])
		`, pq.Array(published), time.Now().UTC())
		if err != nil {
			return 0, fmt.Errorf("mark outbox rows processed: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit outbox tx: %w", err)
		}
	}
	return len(published), publishErr
}
