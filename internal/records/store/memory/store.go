// Package memory is an in-process record store used for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"keeper/internal/records/models"
	"keeper/pkg/platform/sentinel"
	"keeper/pkg/requestcontext"
)

type key struct {
	entityType string
	id         string
}

// Store keeps records in a map guarded by a RWMutex. Reads and writes copy
// records so callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	records map[key]*models.Record
}

func New() *Store {
	return &Store{records: make(map[key]*models.Record)}
}

func (s *Store) Fetch(ctx context.Context, entityType, id string) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key{entityType, id}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns every record of entityType ordered by ID.
func (s *Store) List(ctx context.Context, entityType string) ([]*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Record
	for k, rec := range s.records {
		if k.entityType == entityType {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Create(ctx context.Context, rec *models.Record) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{rec.Type, rec.ID}
	if _, exists := s.records[k]; exists {
		return nil, sentinel.ErrConflict
	}
	now := requestcontext.Now(ctx)
	stored := rec.Clone()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.records[k] = stored
	return stored.Clone(), nil
}

// Apply writes change if the stored version still equals expectedVersion.
func (s *Store) Apply(ctx context.Context, entityType, id string, expectedVersion int64, change map[string]any) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[key{entityType, id}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, sentinel.ErrConflict
	}
	next := current.Clone()
	next.Apply(change, requestcontext.Now(ctx))
	s.records[key{entityType, id}] = next
	return next.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, entityType, id string, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[key{entityType, id}]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	delete(s.records, key{entityType, id})
	return nil
}
