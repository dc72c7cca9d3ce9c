package workers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ballotbox/contexts/election/dedup-gate/adapters/memory"
	"ballotbox/contexts/election/dedup-gate/application/commands"
	messagesv1 "ballotbox/contracts/gen/messages/v1"
)

func TestHandleForwardsValidSubmission(t *testing.T) {
	consumer, publisher := newConsumer()
	msg, err := messagesv1.NewSubmissionMessage(messagesv1.Submission{MachineID: 1, VoterID: 4, Voting: 2, ElectionID: 1, UUID: "u1", Timestamp: 1})
	if err != nil {
		t.Fatalf("build submission: %v", err)
	}
	if err := consumer.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(publisher.published) != 1 || publisher.published[0].Attributes[messagesv1.AttrFunction] != messagesv1.FunctionRecord {
		t.Fatalf("expected one forwarded ballot, got %+v", publisher.published)
	}
}

func TestHandleNacksMalformedSubmission(t *testing.T) {
	consumer, publisher := newConsumer()
	err := consumer.Handle(context.Background(), messagesv1.Message{
		ID:         "m1",
		Data:       []byte(`{"machine_ID":1}`),
		Attributes: map[string]string{messagesv1.AttrFunction: messagesv1.FunctionSubmit},
	})
	if !errors.Is(err, messagesv1.ErrMalformedPayload) {
		t.Fatalf("expected malformed payload error, got %v", err)
	}
	if len(publisher.published) != 0 {
		t.Fatalf("malformed submissions must not produce messages")
	}
}

func TestHandleAcksMessagesForOtherStages(t *testing.T) {
	consumer, publisher := newConsumer()
	msg, err := messagesv1.NewForwardedMessage(messagesv1.Forwarded{MachineID: 1, Voting: 1, ElectionID: 1, UUID: "u1"})
	if err != nil {
		t.Fatalf("build forwarded: %v", err)
	}
	if err := consumer.Handle(context.Background(), msg); err != nil {
		t.Fatalf("expected ack for foreign message, got %v", err)
	}
	if len(publisher.published) != 0 {
		t.Fatalf("foreign messages must be ignored")
	}
}

func TestStartSubscribesWithHandle(t *testing.T) {
	consumer, publisher := newConsumer()
	msg, _ := messagesv1.NewSubmissionMessage(messagesv1.Submission{MachineID: 1, VoterID: 4, Voting: 2, ElectionID: 1, UUID: "u1", Timestamp: 1})
	consumer.Subscriber = &replaySubscriber{messages: []messagesv1.Message{msg, msg}}

	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(publisher.published) != 2 {
		t.Fatalf("expected a forward and an already voted result, got %d messages", len(publisher.published))
	}
	if publisher.published[1].Attributes[messagesv1.AttrFunction] != messagesv1.FunctionResult {
		t.Fatalf("expected redelivery to produce a result, got %v", publisher.published[1].Attributes)
	}
}

func newConsumer() (SubmissionConsumer, *stubPublisher) {
	publisher := &stubPublisher{}
	return SubmissionConsumer{
		Gate: commands.AdmitUseCase{
			Store:     memory.NewStore(),
			Publisher: publisher,
			Topic:     "election",
		},
	}, publisher
}

type stubPublisher struct {
	mu        sync.Mutex
	published []messagesv1.Message
}

func (p *stubPublisher) Publish(_ context.Context, _ string, msg messagesv1.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return "id", nil
}

type replaySubscriber struct {
	messages []messagesv1.Message
}

func (s *replaySubscriber) Subscribe(ctx context.Context, handler func(context.Context, messagesv1.Message) error) error {
	for _, msg := range s.messages {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
