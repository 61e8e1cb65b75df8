// Package postgres persists records as JSONB documents with a version column
// for optimistic concurrency.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"keeper/internal/records/models"
	"keeper/pkg/platform/sentinel"
	txcontext "keeper/pkg/platform/tx"
	"keeper/pkg/requestcontext"
)

const uniqueViolation = "23505"

// Store implements the record store on PostgreSQL. When the context carries a
// transaction (pkg/platform/tx) every statement runs inside it.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Fetch(ctx context.Context, entityType, id string) (*models.Record, error) {
	row := txcontext.For(ctx, s.db).QueryRowContext(ctx, `
		SELECT entity_type, id, fields, version, created_at, updated_at
		FROM records
		WHERE entity_type = $1 AND id = $2
	`, entityType, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("fetch record: %w", err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, entityType string) ([]*models.Record, error) {
	rows, err := txcontext.For(ctx, s.db).QueryContext(ctx, `
		SELECT entity_type, id, fields, version, created_at, updated_at
		FROM records
		WHERE entity_type = $1
		ORDER BY id
	`, entityType)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, rec *models.Record) (*models.Record, error) {
	fields, err := marshalFields(rec.Fields)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()
	_, err = txcontext.For(ctx, s.db).ExecContext(ctx, `
		INSERT INTO records (entity_type, id, fields, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, $4, $4)
	`, rec.Type, rec.ID, fields, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, sentinel.ErrConflict
		}
		return nil, fmt.Errorf("insert record: %w", err)
	}
	stored := rec.Clone()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	return stored, nil
}

// Apply merges change into the stored document. The version predicate in the
// UPDATE makes a stale expectedVersion affect zero rows, which is a conflict
// when the record still exists.
func (s *Store) Apply(ctx context.Context, entityType, id string, expectedVersion int64, change map[string]any) (*models.Record, error) {
	patch, err := marshalFields(change)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()
	row := txcontext.For(ctx, s.db).QueryRowContext(ctx, `
		UPDATE records
		SET fields = fields || $4::jsonb, version = version + 1, updated_at = $5
		WHERE entity_type = $1 AND id = $2 AND version = $3
		RETURNING entity_type, id, fields, version, created_at, updated_at
	`, entityType, id, expectedVersion, patch, now)
	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update record: %w", err)
	}
	return nil, s.missingOrConflict(ctx, entityType, id)
}

func (s *Store) Delete(ctx context.Context, entityType, id string, expectedVersion int64) error {
	res, err := txcontext.For(ctx, s.db).ExecContext(ctx, `
		DELETE FROM records WHERE entity_type = $1 AND id = $2 AND version = $3
	`, entityType, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n == 1 {
		return nil
	}
	return s.missingOrConflict(ctx, entityType, id)
}

func (s *Store) missingOrConflict(ctx context.Context, entityType, id string) error {
	var exists bool
	err := txcontext.For(ctx, s.db).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM records WHERE entity_type = $1 AND id = $2)
	`, entityType, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check record: %w", err)
	}
	if exists {
		return sentinel.ErrConflict
	}
	return sentinel.ErrNotFound
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var (
		rec    models.Record
		fields []byte
	)
	if err := row.Scan(&rec.Type, &rec.ID, &fields, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Fields = map[string]any{}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal record fields: %w", err)
		}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func marshalFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal record fields: %w", err)
	}
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
