//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"keeper/internal/records/models"
	"keeper/internal/records/store/postgres"
	"keeper/pkg/platform/sentinel"
	txcontext "keeper/pkg/platform/tx"
	"keeper/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "records"))
}

func (s *PostgresStoreSuite) create(fields map[string]any) *models.Record {
	rec, err := s.store.Create(context.Background(), &models.Record{
		Type:   "Incident",
		ID:     "INC-" + uuid.NewString(),
		Fields: fields,
	})
	s.Require().NoError(err)
	return rec
}

func (s *PostgresStoreSuite) TestCreateFetchRoundTrip() {
	ctx := context.Background()
	rec := s.create(map[string]any{"title": "disk full", "owner": nil, "priority": 3})

	got, err := s.store.Fetch(ctx, "Incident", rec.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), got.Version)
	s.Equal("disk full", got.Fields["title"])
	s.Nil(got.Fields["owner"])
	s.Equal(float64(3), got.Fields["priority"])

	_, err = s.store.Create(ctx, &models.Record{Type: "Incident", ID: rec.ID})
	s.ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.Fetch(ctx, "Incident", "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestApplyMergesAndVersions() {
	ctx := context.Background()
	rec := s.create(map[string]any{"title": "t", "state": "open"})

	updated, err := s.store.Apply(ctx, "Incident", rec.ID, 1, map[string]any{"state": "closed"})
	s.Require().NoError(err)
	s.Equal(int64(2), updated.Version)
	s.Equal("t", updated.Fields["title"])
	s.Equal("closed", updated.Fields["state"])

	_, err = s.store.Apply(ctx, "Incident", rec.ID, 1, map[string]any{"state": "open"})
	s.ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.Apply(ctx, "Incident", "missing", 1, map[string]any{"state": "open"})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConcurrentApplyHasOneWinner() {
	ctx := context.Background()
	rec := s.create(map[string]any{"n": 0})

	const writers = 20
	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.store.Apply(ctx, "Incident", rec.ID, 1, map[string]any{"n": n})
			if err == nil {
				wins.Add(1)
			} else if err == sentinel.ErrConflict {
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(writers-1), conflicts.Load())
}

func (s *PostgresStoreSuite) TestDeleteAndList() {
	ctx := context.Background()
	a := s.create(nil)
	s.create(nil)

	s.ErrorIs(s.store.Delete(ctx, "Incident", a.ID, 7), sentinel.ErrConflict)
	s.Require().NoError(s.store.Delete(ctx, "Incident", a.ID, 1))
	s.ErrorIs(s.store.Delete(ctx, "Incident", a.ID, 1), sentinel.ErrNotFound)

	list, err := s.store.List(ctx, "Incident")
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *PostgresStoreSuite) TestRollbackDiscardsWrite() {
	ctx := context.Background()
	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	txCtx := txcontext.WithTx(ctx, tx)
	_, err = s.store.Create(txCtx, &models.Record{Type: "Incident", ID: "INC-tx"})
	s.Require().NoError(err)
	s.Require().NoError(tx.Rollback())

	_, err = s.store.Fetch(ctx, "Incident", "INC-tx")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
