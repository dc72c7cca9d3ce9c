package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ballotbox/contexts/election/vote-recorder/adapters/memory"
	"ballotbox/contexts/election/vote-recorder/application/commands"
	"ballotbox/contexts/election/vote-recorder/domain/entities"
	messagesv1 "ballotbox/contracts/gen/messages/v1"
)

func TestResultRelayRepublishesPendingResults(t *testing.T) {
	store := memory.NewStore(nil)
	now := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"u1", "u2"} {
		_, err := store.RecordVote(context.Background(),
			entities.VoteRecord{ElectionID: 1, MachineID: int64(i + 1), Choice: 1, BallotUUID: id},
			entities.ResultNotice{BallotUUID: id, MachineID: int64(i + 1), Result: messagesv1.ResultSuccessful, CreatedAt: now.Add(time.Duration(i) * time.Second)},
		)
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	publisher := &stubPublisher{failures: 1}
	relay := ResultRelay{Outbox: store, Publisher: publisher, Topic: "election", Clock: fixedClock{now: now}}

	if err := relay.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected first cycle to stop on publish failure")
	}
	if pending, _ := store.ListPendingResults(context.Background(), 10); len(pending) != 2 {
		t.Fatalf("expected both rows still pending, got %d", len(pending))
	}

	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if pending, _ := store.ListPendingResults(context.Background(), 10); len(pending) != 0 {
		t.Fatalf("expected no pending rows, got %d", len(pending))
	}
	published := publisher.all()
	if len(published) != 2 {
		t.Fatalf("expected two results, got %d", len(published))
	}
	if published[0].Attributes[messagesv1.AttrMachineID] != "1" || published[1].Attributes[messagesv1.AttrMachineID] != "2" {
		t.Fatalf("expected results in creation order addressed to their machines, got %v / %v",
			published[0].Attributes, published[1].Attributes)
	}

	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("idle cycle: %v", err)
	}
	if len(publisher.all()) != 2 {
		t.Fatalf("idle cycle must not publish")
	}
}

func TestRecordConsumerHandle(t *testing.T) {
	store := memory.NewStore(nil)
	publisher := &stubPublisher{}
	consumer := RecordConsumer{
		Recorder: commands.RecordUseCase{Ledger: store, Outbox: store, Publisher: publisher, Topic: "election"},
	}

	msg, err := messagesv1.NewForwardedMessage(messagesv1.Forwarded{MachineID: 2, Voting: 0, ElectionID: 5, UUID: "u1"})
	if err != nil {
		t.Fatalf("build forwarded: %v", err)
	}
	if err := consumer.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := consumer.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle redelivery: %v", err)
	}
	votes, _ := store.ListVotesByElection(context.Background(), 5)
	if len(votes) != 1 || votes[0].Choice != 0 || votes[0].MachineID != 2 {
		t.Fatalf("unexpected ledger contents %+v", votes)
	}

	err = consumer.Handle(context.Background(), messagesv1.Message{
		Data:       []byte(`{"voting":1}`),
		Attributes: map[string]string{messagesv1.AttrFunction: messagesv1.FunctionRecord},
	})
	if !errors.Is(err, messagesv1.ErrMalformedPayload) {
		t.Fatalf("expected malformed payload error, got %v", err)
	}

	submission, _ := messagesv1.NewSubmissionMessage(messagesv1.Submission{UUID: "u9"})
	if err := consumer.Handle(context.Background(), submission); err != nil {
		t.Fatalf("expected foreign message to be acked, got %v", err)
	}
	if store.Count() != 1 {
		t.Fatalf("expected ledger untouched by foreign and malformed messages")
	}
}

type fixedClock struct {
	now time.Time
}

func (f fixedClock) Now() time.Time { return f.now }

type stubPublisher struct {
	mu       sync.Mutex
	messages []messagesv1.Message
	failures int
}

func (p *stubPublisher) Publish(_ context.Context, _ string, msg messagesv1.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return "", errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return "id", nil
}

func (p *stubPublisher) all() []messagesv1.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]messagesv1.Message(nil), p.messages...)
}
