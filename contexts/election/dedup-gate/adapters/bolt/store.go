package boltadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ballotbox/contexts/election/dedup-gate/domain/entities"
	domainerrors "ballotbox/contexts/election/dedup-gate/domain/errors"
	"ballotbox/contexts/election/dedup-gate/ports"

	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// StableStore is the key/value half of hashicorp/raft's StableStore; any
// implementation will do.
type StableStore interface {
	Set(key []byte, val []byte) error
	Get(key []byte) ([]byte, error)
}

// Store is the single-node embedded dedup store. Bolt serialises writers
// but a get-then-set still needs the process mutex to be atomic.
type Store struct {
	mu     sync.Mutex
	kv     StableStore
	closer func() error
	logger *slog.Logger
}

// Open creates or opens the bolt file at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	boltStore, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("open bolt dedup store %s: %w", path, err)
	}
	store := NewStore(boltStore, logger)
	store.closer = boltStore.Close
	return store, nil
}

func NewStore(kv StableStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

func (s *Store) Reserve(_ context.Context, key entities.DedupKey, mark entities.Mark) (entities.Mark, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.load(key)
	if err != nil {
		return entities.Mark{}, false, err
	}
	if found {
		return existing, false, nil
	}
	if err := s.kv.Set([]byte(key.String()), []byte(mark.Encode())); err != nil {
		return entities.Mark{}, false, s.logError("dedup_bolt_set_failed", err, "key", key.String())
	}
	return mark, true, nil
}

func (s *Store) ConfirmForwarded(_ context.Context, key entities.DedupKey, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mark, found, err := s.load(key)
	if err != nil {
		return err
	}
	if !found {
		return domainerrors.ErrMarkNotFound
	}
	if mark.CorrelationID != correlationID {
		return domainerrors.ErrMarkOwnership
	}
	mark.Forwarded = true
	if err := s.kv.Set([]byte(key.String()), []byte(mark.Encode())); err != nil {
		return s.logError("dedup_bolt_confirm_failed", err, "key", key.String())
	}
	return nil
}

func (s *Store) load(key entities.DedupKey) (entities.Mark, bool, error) {
	raw, err := s.kv.Get([]byte(key.String()))
	if errors.Is(err, raftboltdb.ErrKeyNotFound) || (err == nil && len(raw) == 0) {
		return entities.Mark{}, false, nil
	}
	if err != nil {
		return entities.Mark{}, false, s.logError("dedup_bolt_get_failed", err, "key", key.String())
	}
	mark, err := entities.DecodeMark(string(raw))
	if err != nil {
		return entities.Mark{}, false, s.logError("dedup_bolt_decode_failed", err, "key", key.String())
	}
	return mark, true, nil
}

func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *Store) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "election/dedup-gate",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("bolt dedup store operation failed", fields...)
	return err
}

var _ ports.DedupStore = (*Store)(nil)
