package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"keeper/internal/records/models"
	"keeper/pkg/platform/sentinel"
	"keeper/pkg/requestcontext"
)

type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.store = New()
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func (s *StoreSuite) seed(id string, fields map[string]any) *models.Record {
	rec, err := s.store.Create(s.ctx, &models.Record{Type: "Incident", ID: id, Fields: fields})
	s.Require().NoError(err)
	return rec
}

func (s *StoreSuite) TestCreateAndFetch() {
	created := s.seed("INC-1", map[string]any{"title": "disk full"})
	s.Equal(int64(1), created.Version)
	s.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), created.CreatedAt)

	got, err := s.store.Fetch(s.ctx, "Incident", "INC-1")
	s.Require().NoError(err)
	s.Equal("disk full", got.Fields["title"])

	s.Run("duplicate id conflicts", func() {
		_, err := s.store.Create(s.ctx, &models.Record{Type: "Incident", ID: "INC-1"})
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("same id under another type is distinct", func() {
		_, err := s.store.Create(s.ctx, &models.Record{Type: "Customer", ID: "INC-1"})
		s.NoError(err)
	})

	s.Run("missing record", func() {
		_, err := s.store.Fetch(s.ctx, "Incident", "INC-404")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *StoreSuite) TestFetchReturnsCopies() {
	s.seed("INC-1", map[string]any{"state": "open"})

	got, err := s.store.Fetch(s.ctx, "Incident", "INC-1")
	s.Require().NoError(err)
	got.Fields["state"] = "tampered"

	again, err := s.store.Fetch(s.ctx, "Incident", "INC-1")
	s.Require().NoError(err)
	s.Equal("open", again.Fields["state"])
}

func (s *StoreSuite) TestApply() {
	rec := s.seed("INC-1", map[string]any{"state": "open", "owner": "alice"})

	updated, err := s.store.Apply(s.ctx, "Incident", "INC-1", rec.Version, map[string]any{"state": "closed", "owner": nil})
	s.Require().NoError(err)
	s.Equal(int64(2), updated.Version)
	s.Equal("closed", updated.Fields["state"])
	s.Nil(updated.Fields["owner"])

	s.Run("stale version conflicts", func() {
		_, err := s.store.Apply(s.ctx, "Incident", "INC-1", rec.Version, map[string]any{"state": "open"})
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("missing record", func() {
		_, err := s.store.Apply(s.ctx, "Incident", "INC-2", 1, nil)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *StoreSuite) TestConcurrentApplyHasOneWinner() {
	rec := s.seed("INC-1", map[string]any{"counter": 0})

	const writers = 32
	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.store.Apply(s.ctx, "Incident", "INC-1", rec.Version, map[string]any{"counter": n})
			switch err {
			case nil:
				wins.Add(1)
			case sentinel.ErrConflict:
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(writers-1), conflicts.Load())
}

func (s *StoreSuite) TestDeleteAndList() {
	a := s.seed("INC-2", nil)
	s.seed("INC-1", nil)

	list, err := s.store.List(s.ctx, "Incident")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal("INC-1", list[0].ID)

	s.ErrorIs(s.store.Delete(s.ctx, "Incident", "INC-2", a.Version+1), sentinel.ErrConflict)
	s.Require().NoError(s.store.Delete(s.ctx, "Incident", "INC-2", a.Version))
	s.ErrorIs(s.store.Delete(s.ctx, "Incident", "INC-2", a.Version), sentinel.ErrNotFound)

	list, err = s.store.List(s.ctx, "Incident")
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *StoreSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.store.Fetch(ctx, "Incident", "INC-1")
	s.ErrorIs(err, context.Canceled)
}
