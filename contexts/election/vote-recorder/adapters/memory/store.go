package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ballotbox/contexts/election/vote-recorder/domain/entities"
	domainerrors "ballotbox/contexts/election/vote-recorder/domain/errors"
	"ballotbox/contexts/election/vote-recorder/ports"
	"ballotbox/internal/shared/outbox"
)

type Store struct {
	mu sync.RWMutex

	votes   map[string]entities.VoteRecord
	order   []string
	results map[string]outboxRecord
}

type outboxRecord struct {
	notice entities.ResultNotice
	status string
}

func NewStore(seed []entities.VoteRecord) *Store {
	s := &Store{
		votes:   make(map[string]entities.VoteRecord, len(seed)),
		results: make(map[string]outboxRecord),
	}
	for _, vote := range seed {
		if _, ok := s.votes[vote.BallotUUID]; ok {
			continue
		}
		s.votes[vote.BallotUUID] = vote
		s.order = append(s.order, vote.BallotUUID)
	}
	return s
}

func (s *Store) RecordVote(_ context.Context, vote entities.VoteRecord, notice entities.ResultNotice) (entities.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(vote.BallotUUID)
	if existing, ok := s.votes[id]; ok {
		if !existing.SameBallot(vote) {
			return entities.Receipt{}, domainerrors.ErrLedgerConflict
		}
		record := s.results[id]
		return entities.Receipt{
			Inserted:        false,
			ResultPublished: record.status == outbox.StatusPublished,
		}, nil
	}

	s.votes[id] = vote
	s.order = append(s.order, id)
	s.results[id] = outboxRecord{notice: notice, status: outbox.StatusPending}
	return entities.Receipt{Inserted: true}, nil
}

func (s *Store) ListVotesByElection(_ context.Context, electionID int64) ([]entities.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.VoteRecord, 0)
	for _, id := range s.order {
		if vote := s.votes[id]; vote.ElectionID == electionID {
			items = append(items, vote)
		}
	}
	return items, nil
}

func (s *Store) ListPendingResults(_ context.Context, limit int) ([]entities.ResultNotice, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.ResultNotice, 0)
	for _, record := range s.results {
		if record.status == outbox.StatusPending {
			items = append(items, record.notice)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].BallotUUID < items[j].BallotUUID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkResultPublished(_ context.Context, ballotUUID string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimSpace(ballotUUID)
	record, ok := s.results[id]
	if !ok {
		return domainerrors.ErrResultNotFound
	}
	at := publishedAt.UTC()
	record.status = outbox.StatusPublished
	record.notice.PublishedAt = &at
	s.results[id] = record
	return nil
}

// Count returns the number of committed votes.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.votes)
}

var (
	_ ports.Ledger       = (*Store)(nil)
	_ ports.ResultOutbox = (*Store)(nil)
)
