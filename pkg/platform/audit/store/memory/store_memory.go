package memory

import (
	"context"
	"sync"

	audit "keeper/pkg/platform/audit"
)

// InMemoryStore keeps events in arrival order. Used by the dev server and tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	ops    []audit.OpsEvent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) AppendOps(_ context.Context, event audit.OpsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, event)
	return nil
}

// Events returns a snapshot of every appended event.
func (s *InMemoryStore) Events() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...)
}

// ByKind filters the snapshot to one kind.
func (s *InMemoryStore) ByKind(kind audit.Kind) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// BySubject returns events about one record.
func (s *InMemoryStore) BySubject(subjectType, subjectID string) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.SubjectType == subjectType && e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return out
}

func (s *InMemoryStore) OpsEvents() []audit.OpsEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.OpsEvent{}, s.ops...)
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.ops = nil
}
