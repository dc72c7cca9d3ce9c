package memory

import (
	"context"
	"sync"

	"ballotbox/contexts/election/dedup-gate/domain/entities"
	domainerrors "ballotbox/contexts/election/dedup-gate/domain/errors"
	"ballotbox/contexts/election/dedup-gate/ports"
)

type Store struct {
	mu    sync.Mutex
	marks map[string]entities.Mark
}

func NewStore() *Store {
	return &Store{marks: make(map[string]entities.Mark)}
}

func (s *Store) Reserve(_ context.Context, key entities.DedupKey, mark entities.Mark) (entities.Mark, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.marks[key.String()]; ok {
		return existing, false, nil
	}
	s.marks[key.String()] = mark
	return mark, true, nil
}

func (s *Store) ConfirmForwarded(_ context.Context, key entities.DedupKey, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mark, ok := s.marks[key.String()]
	if !ok {
		return domainerrors.ErrMarkNotFound
	}
	if mark.CorrelationID != correlationID {
		return domainerrors.ErrMarkOwnership
	}
	mark.Forwarded = true
	s.marks[key.String()] = mark
	return nil
}

// Mark returns the stored mark for inspection.
func (s *Store) Mark(key entities.DedupKey) (entities.Mark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mark, ok := s.marks[key.String()]
	return mark, ok
}

// Put seeds a raw mark, e.g. one written by an earlier deployment.
func (s *Store) Put(key entities.DedupKey, mark entities.Mark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[key.String()] = mark
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marks)
}

var _ ports.DedupStore = (*Store)(nil)
