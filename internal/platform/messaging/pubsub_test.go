package messaging

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestPubSub(t *testing.T) *PubSub {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial pstest: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	ps, err := NewPubSub(context.Background(), "ballotbox-test", nil, option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("new pubsub: %v", err)
	}
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func TestPubSubCreateSubscriptionAcceptsEquivalentFilter(t *testing.T) {
	ctx := context.Background()
	ps := newTestPubSub(t)
	if err := ps.EnsureTopic(ctx, "election"); err != nil {
		t.Fatalf("ensure topic: %v", err)
	}

	// Created earlier by another tool, with its own spacing.
	_, err := ps.client.CreateSubscription(ctx, "election-result-1-sub", pubsub.SubscriptionConfig{
		Topic:  ps.client.Topic("election"),
		Filter: `attributes.function="result" AND attributes.machineID="1"`,
	})
	if err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	cfg := SubscriptionConfig{
		ID:     "election-result-1-sub",
		Topic:  "election",
		Filter: AttributeEquals("function", "result").And(AttributeEquals("machineID", "1")),
	}
	if result := ps.CreateSubscription(ctx, cfg); result.Status != SubscriptionAlreadyExists {
		t.Fatalf("expected already exists, got %s err=%v", result.Status, result.Err)
	}

	cfg.Filter = AttributeEquals("function", "result").And(AttributeEquals("machineID", "2"))
	result := ps.CreateSubscription(ctx, cfg)
	if result.Status != SubscriptionFailed || !errors.Is(result.Err, ErrSubscriptionMismatch) {
		t.Fatalf("expected mismatch failure, got %s err=%v", result.Status, result.Err)
	}
}

func TestPubSubCreateSubscriptionCreatesThenReportsExisting(t *testing.T) {
	ctx := context.Background()
	ps := newTestPubSub(t)
	if err := ps.EnsureTopic(ctx, "election"); err != nil {
		t.Fatalf("ensure topic: %v", err)
	}
	if err := ps.EnsureTopic(ctx, "election"); err != nil {
		t.Fatalf("ensure topic twice: %v", err)
	}

	cfg := SubscriptionConfig{
		ID:     "election-gate-sub",
		Topic:  "election",
		Filter: AttributeEquals("function", "submit"),
	}
	if result := ps.CreateSubscription(ctx, cfg); result.Status != SubscriptionCreated {
		t.Fatalf("expected created, got %s err=%v", result.Status, result.Err)
	}
	if result := ps.CreateSubscription(ctx, cfg); result.Status != SubscriptionAlreadyExists {
		t.Fatalf("expected already exists, got %s err=%v", result.Status, result.Err)
	}

	cfg.Topic = "other"
	if err := ps.EnsureTopic(ctx, "other"); err != nil {
		t.Fatalf("ensure other topic: %v", err)
	}
	if result := ps.CreateSubscription(ctx, cfg); result.Status != SubscriptionFailed {
		t.Fatalf("expected failure for a subscription on another topic, got %s", result.Status)
	}
}
