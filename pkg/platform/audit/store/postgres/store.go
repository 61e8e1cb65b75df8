package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "keeper/pkg/platform/audit"
	txcontext "keeper/pkg/platform/tx"
)

// Store implements audit.Sink using the transactional outbox pattern.
// Append writes to the outbox table, inside the caller's transaction when the
// context carries one, and the outbox relay publishes rows to Kafka. The
// consumer materializes Kafka events back into audit_events via AppendWithID.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes an audit event to the outbox.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	payload, err := audit.Marshal(event)
	if err != nil {
		return err
	}

	_, err = txcontext.For(ctx, s.db).ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		uuid.New(),
		event.SubjectType,
		event.SubjectID,
		string(event.Kind),
		payload,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// AppendWithID inserts an event into audit_events keyed by its own ID.
// Duplicate deliveries are ignored.
func (s *Store) AppendWithID(ctx context.Context, event audit.Event) error {
	id, err := uuid.Parse(event.ID)
	if err != nil {
		return fmt.Errorf("audit event id: %w", err)
	}
	payload, err := audit.Marshal(event)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, kind, actor, subject_type, subject_id,
			attribute_names, payload, severity, occurred_at, correlation_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		id,
		string(event.Kind),
		event.Actor,
		event.SubjectType,
		event.SubjectID,
		pq.Array(event.AttributeNames()),
		payload,
		string(event.Severity),
		event.Timestamp.UTC(),
		event.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySubject returns materialized events for one record, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subjectType, subjectID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload
		FROM audit_events
		WHERE subject_type = $1 AND subject_id = $2
		ORDER BY occurred_at, id
	`, subjectType, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event, err := audit.Unmarshal(payload)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// AppendOps writes an operational diagnostic directly; ops events bypass the outbox.
func (s *Store) AppendOps(ctx context.Context, event audit.OpsEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_ops (id, occurred_at, action, subject, detail, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id, occurred_at) DO NOTHING
	`,
		uuid.New(),
		event.Timestamp.UTC(),
		event.Action,
		event.Subject,
		event.Detail,
		event.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("insert ops event: %w", err)
	}
	return nil
}
