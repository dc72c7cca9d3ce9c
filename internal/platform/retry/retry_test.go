package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, Delay: time.Millisecond}, nil, "redis", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsAfterAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("connection refused")
	err := Do(context.Background(), Policy{Attempts: 4, Delay: time.Millisecond}, nil, "postgres", func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
}

func TestDoHonoursPermanentErrors(t *testing.T) {
	calls := 0
	bad := errors.New("bad credentials")
	err := Do(context.Background(), Policy{Attempts: 10, Delay: time.Millisecond}, nil, "postgres", func(context.Context) error {
		calls++
		return Permanent(bad)
	})
	if !errors.Is(err, bad) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 100, Delay: 10 * time.Millisecond}, nil, "broker", func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("unavailable")
	})
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
	if calls > 3 {
		t.Fatalf("expected retries to stop after cancellation, got %d calls", calls)
	}
}
