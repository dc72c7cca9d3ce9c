package redisadapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"ballotbox/contexts/election/dedup-gate/domain/entities"
	domainerrors "ballotbox/contexts/election/dedup-gate/domain/errors"
	"ballotbox/internal/platform/retry"

	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := Dial(context.Background(), Options{Addr: mr.Addr()}, retry.Policy{Attempts: 1}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestReserveConcurrentBallotsHaveOneWinner(t *testing.T) {
	store, _ := newTestStore(t)
	key := entities.DedupKey{VoterID: 42, ElectionID: 1}

	const n = 16
	var (
		mu      sync.Mutex
		winners []string
		seen    = map[string]int{}
		wg      sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i)
			stored, reserved, err := store.Reserve(context.Background(), key, entities.Mark{Timestamp: int64(i), CorrelationID: id})
			if err != nil {
				t.Errorf("reserve %s: %v", id, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if reserved {
				winners = append(winners, id)
			}
			seen[stored.CorrelationID]++
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}
	if seen[winners[0]] != n {
		t.Fatalf("every caller must observe the winning mark %s, got %v", winners[0], seen)
	}
}

func TestConfirmForwardedChecksOwnership(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	key := entities.DedupKey{VoterID: 7, ElectionID: 1}

	if err := store.ConfirmForwarded(ctx, key, "u1"); !errors.Is(err, domainerrors.ErrMarkNotFound) {
		t.Fatalf("expected missing mark, got %v", err)
	}
	if _, reserved, err := store.Reserve(ctx, key, entities.Mark{Timestamp: 100, CorrelationID: "u1"}); err != nil || !reserved {
		t.Fatalf("reserve: reserved=%v err=%v", reserved, err)
	}
	if err := store.ConfirmForwarded(ctx, key, "u2"); !errors.Is(err, domainerrors.ErrMarkOwnership) {
		t.Fatalf("expected ownership error for another ballot, got %v", err)
	}
	if err := store.ConfirmForwarded(ctx, key, "u1"); err != nil {
		t.Fatalf("confirm by owner: %v", err)
	}
	if err := store.ConfirmForwarded(ctx, key, "u1"); err != nil {
		t.Fatalf("repeated confirm by owner: %v", err)
	}

	raw, err := mr.Get(key.String())
	if err != nil {
		t.Fatalf("get raw mark: %v", err)
	}
	mark, err := entities.DecodeMark(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mark != (entities.Mark{Timestamp: 100, CorrelationID: "u1", Forwarded: true}) {
		t.Fatalf("unexpected stored mark %+v", mark)
	}
	if ttl := mr.TTL(key.String()); ttl != 0 {
		t.Fatalf("marks must not expire, got ttl %s", ttl)
	}
}

func TestReserveReadsLegacyTimestampMark(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	key := entities.DedupKey{VoterID: 7, ElectionID: 1}
	if err := mr.Set(key.String(), "1700000000000"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stored, reserved, err := store.Reserve(ctx, key, entities.Mark{Timestamp: 5, CorrelationID: "u1"})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserved {
		t.Fatalf("an existing legacy mark must block the reservation")
	}
	if entities.Decide(stored, reserved, "u1") != entities.DecisionAlreadyVoted {
		t.Fatalf("legacy mark must yield already voted, got %+v", stored)
	}
	if err := store.ConfirmForwarded(ctx, key, "u1"); !errors.Is(err, domainerrors.ErrMarkOwnership) {
		t.Fatalf("legacy marks belong to no ballot, got %v", err)
	}
	if raw, _ := mr.Get(key.String()); raw != "1700000000000" {
		t.Fatalf("legacy mark must be left untouched, got %q", raw)
	}
}

func TestReserveRejectsCorruptMark(t *testing.T) {
	store, mr := newTestStore(t)
	key := entities.DedupKey{VoterID: 1, ElectionID: 1}
	if err := mr.Set(key.String(), "not a mark"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := store.Reserve(context.Background(), key, entities.Mark{CorrelationID: "u1"}); err == nil {
		t.Fatalf("expected decode error")
	}
}
