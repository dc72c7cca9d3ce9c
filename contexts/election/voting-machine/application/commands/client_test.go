package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ballotbox/contexts/election/voting-machine/domain/entities"
	domainerrors "ballotbox/contexts/election/voting-machine/domain/errors"
	messagesv1 "ballotbox/contracts/gen/messages/v1"
)

func TestSubmitBallotReceivesCorrelatedResult(t *testing.T) {
	client, publisher := newTestClient(time.Second)
	publisher.respond = func(s messagesv1.Submission) []resultReply {
		return []resultReply{
			{machineID: s.MachineID, result: messagesv1.Result{Result: messagesv1.ResultSuccessful, UUID: "someone-else"}},
			{machineID: s.MachineID, result: messagesv1.Result{Result: messagesv1.ResultSuccessful, UUID: s.UUID}},
		}
	}

	receipt, err := client.SubmitBallot(context.Background(), 7, 2)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.Outcome != entities.OutcomeRecorded {
		t.Fatalf("expected recorded, got %s", receipt.Outcome)
	}
	if receipt.Ballot.CorrelationID != "id-1" || receipt.Ballot.VoterID != 7 || receipt.Ballot.Choice != 2 || receipt.Ballot.ElectionID != 1 {
		t.Fatalf("unexpected ballot %+v", receipt.Ballot)
	}
	if client.State() != entities.StateIdle {
		t.Fatalf("expected idle after result")
	}

	sent := publisher.submissions()
	if len(sent) != 1 || sent[0].UUID != "id-1" || sent[0].MachineID != 3 || sent[0].Timestamp != fixedNow.UnixMilli() {
		t.Fatalf("unexpected submission %+v", sent)
	}
}

func TestSubmitBallotReportsAlreadyVoted(t *testing.T) {
	client, publisher := newTestClient(time.Second)
	publisher.respond = func(s messagesv1.Submission) []resultReply {
		return []resultReply{{machineID: s.MachineID, result: messagesv1.Result{Result: messagesv1.ResultAlreadyVoted, UUID: s.UUID}}}
	}
	receipt, err := client.SubmitBallot(context.Background(), 7, 4)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.Outcome != entities.OutcomeAlreadyVoted {
		t.Fatalf("expected already voted, got %s", receipt.Outcome)
	}
}

func TestSubmitBallotTimesOutWithoutResult(t *testing.T) {
	client, publisher := newTestClient(20 * time.Millisecond)
	publisher.respond = func(s messagesv1.Submission) []resultReply {
		return []resultReply{{machineID: s.MachineID + 1, result: messagesv1.Result{Result: messagesv1.ResultSuccessful, UUID: s.UUID}}}
	}

	started := time.Now()
	receipt, err := client.SubmitBallot(context.Background(), 7, 2)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.Outcome != entities.OutcomeTimedOut {
		t.Fatalf("expected result for another machine to be ignored, got %s", receipt.Outcome)
	}
	if time.Since(started) > 2*time.Second {
		t.Fatalf("timeout took too long")
	}
	if client.State() != entities.StateIdle {
		t.Fatalf("expected idle after timeout")
	}

	late, _ := messagesv1.NewResultMessage(messagesv1.Result{Result: messagesv1.ResultSuccessful, UUID: receipt.Ballot.CorrelationID}, 3)
	if err := client.HandleResult(context.Background(), late); err != nil {
		t.Fatalf("late result should be acknowledged, got %v", err)
	}
}

func TestResubmitKeepsCorrelationID(t *testing.T) {
	client, publisher := newTestClient(20 * time.Millisecond)
	first, err := client.SubmitBallot(context.Background(), 7, 2)
	if err != nil || first.Outcome != entities.OutcomeTimedOut {
		t.Fatalf("expected timeout, got %+v err=%v", first, err)
	}

	publisher.respond = func(s messagesv1.Submission) []resultReply {
		return []resultReply{{machineID: s.MachineID, result: messagesv1.Result{Result: messagesv1.ResultSuccessful, UUID: s.UUID}}}
	}
	second, err := client.Resubmit(context.Background(), first.Ballot)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Outcome != entities.OutcomeRecorded || second.Ballot != first.Ballot {
		t.Fatalf("unexpected resubmission receipt %+v", second)
	}
	sent := publisher.submissions()
	if len(sent) != 2 || sent[0] != sent[1] {
		t.Fatalf("expected identical submissions, got %+v", sent)
	}

	foreign := first.Ballot
	foreign.MachineID = 99
	if _, err := client.Resubmit(context.Background(), foreign); !errors.Is(err, domainerrors.ErrInvalidBallot) {
		t.Fatalf("expected invalid ballot, got %v", err)
	}
}

func TestSubmitBallotAllowsOneOutstandingBallot(t *testing.T) {
	client, _ := newTestClient(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := client.SubmitBallot(ctx, 1, 1)
		done <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for client.State() != entities.StateAwaitingResult {
		if time.Now().After(deadline) {
			t.Fatalf("first ballot never started waiting")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := client.SubmitBallot(context.Background(), 2, 2); !errors.Is(err, domainerrors.ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if client.State() != entities.StateIdle {
		t.Fatalf("expected idle after cancellation")
	}
}

func TestSubmitBallotPublishFailure(t *testing.T) {
	client, publisher := newTestClient(time.Second)
	publisher.err = errors.New("broker down")
	if _, err := client.SubmitBallot(context.Background(), 1, 1); err == nil {
		t.Fatalf("expected publish error")
	}
	if client.State() != entities.StateIdle {
		t.Fatalf("expected idle after publish failure")
	}
}

func TestHandleResultRejectsUnknownOutcome(t *testing.T) {
	client, _ := newTestClient(time.Second)
	msg, _ := messagesv1.NewResultMessage(messagesv1.Result{Result: "lost", UUID: "x"}, 3)
	if err := client.HandleResult(context.Background(), msg); !errors.Is(err, messagesv1.ErrMalformedPayload) {
		t.Fatalf("expected unknown result to be malformed, got %v", err)
	}
	bad := messagesv1.Message{
		Data:       []byte(`{"result":`),
		Attributes: map[string]string{messagesv1.AttrFunction: messagesv1.FunctionResult, messagesv1.AttrMachineID: "3"},
	}
	if err := client.HandleResult(context.Background(), bad); !errors.Is(err, messagesv1.ErrMalformedPayload) {
		t.Fatalf("expected malformed payload, got %v", err)
	}
}

var fixedNow = time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)

type fixedClock struct {
	now time.Time
}

func (f fixedClock) Now() time.Time { return f.now }

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("id-%d", s.next), nil
}

type resultReply struct {
	machineID int64
	result    messagesv1.Result
}

// loopbackPublisher answers submissions by feeding results straight back into
// the client, standing in for the gate and recorder.
type loopbackPublisher struct {
	mu      sync.Mutex
	client  *Client
	sent    []messagesv1.Submission
	respond func(messagesv1.Submission) []resultReply
	err     error
}

func (p *loopbackPublisher) Publish(ctx context.Context, _ string, msg messagesv1.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	submission, err := messagesv1.DecodeSubmission(msg.Data)
	if err != nil {
		return "", err
	}
	p.sent = append(p.sent, submission)
	if p.respond != nil {
		replies := p.respond(submission)
		go func() {
			for _, reply := range replies {
				result, _ := messagesv1.NewResultMessage(reply.result, reply.machineID)
				_ = p.client.HandleResult(ctx, result)
			}
		}()
	}
	return "id", nil
}

func (p *loopbackPublisher) submissions() []messagesv1.Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]messagesv1.Submission(nil), p.sent...)
}

func newTestClient(wait time.Duration) (*Client, *loopbackPublisher) {
	publisher := &loopbackPublisher{}
	client := &Client{
		Publisher:  publisher,
		IDs:        &sequenceIDs{},
		Clock:      fixedClock{now: fixedNow},
		Topic:      "election",
		ElectionID: 1,
		MachineID:  3,
		ResultWait: wait,
	}
	publisher.client = client
	return client, publisher
}
