package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	application "ballotbox/contexts/election/voting-machine/application"
	"ballotbox/contexts/election/voting-machine/domain/entities"
	domainerrors "ballotbox/contexts/election/voting-machine/domain/errors"
	"ballotbox/contexts/election/voting-machine/ports"
	messagesv1 "ballotbox/contracts/gen/messages/v1"
)

const defaultResultWait = 10 * time.Second

// Client submits ballots for one machine and waits for the correlated result.
// At most one ballot is outstanding at a time; the result subscription hands
// outcomes to the waiting submitter through a per-ballot channel.
type Client struct {
	Publisher  ports.MessagePublisher
	IDs        ports.IDGenerator
	Clock      ports.Clock
	Topic      string
	ElectionID int64
	MachineID  int64
	ResultWait time.Duration
	Logger     *slog.Logger

	mu      sync.Mutex
	pending *waiter
}

type waiter struct {
	correlationID string
	outcome       chan entities.Outcome
}

// SubmitBallot casts a fresh ballot and blocks until its result arrives or
// the result wait elapses. A timeout is reported as OutcomeTimedOut, not as
// an error.
func (c *Client) SubmitBallot(ctx context.Context, voterID int64, choice int64) (entities.Receipt, error) {
	id, err := c.IDs.NewID()
	if err != nil {
		return entities.Receipt{}, fmt.Errorf("generate correlation id: %w", err)
	}
	return c.submit(ctx, entities.Ballot{
		MachineID:     c.MachineID,
		VoterID:       voterID,
		Choice:        choice,
		ElectionID:    c.ElectionID,
		CorrelationID: id,
		Timestamp:     c.now().UnixMilli(),
	})
}

// Resubmit sends a previously timed-out ballot again with its original
// correlation id, so the gate recognises it as the same ballot.
func (c *Client) Resubmit(ctx context.Context, ballot entities.Ballot) (entities.Receipt, error) {
	if strings.TrimSpace(ballot.CorrelationID) == "" || ballot.MachineID != c.MachineID {
		return entities.Receipt{}, domainerrors.ErrInvalidBallot
	}
	return c.submit(ctx, ballot)
}

func (c *Client) submit(ctx context.Context, ballot entities.Ballot) (entities.Receipt, error) {
	logger := application.ResolveLogger(c.Logger)
	w, err := c.begin(ballot.CorrelationID)
	if err != nil {
		return entities.Receipt{}, err
	}
	defer c.finish(w)

	msg, err := messagesv1.NewSubmissionMessage(messagesv1.Submission{
		MachineID:  ballot.MachineID,
		VoterID:    ballot.VoterID,
		Voting:     ballot.Choice,
		ElectionID: ballot.ElectionID,
		UUID:       ballot.CorrelationID,
		Timestamp:  ballot.Timestamp,
	})
	if err != nil {
		return entities.Receipt{}, err
	}
	started := c.now()
	if _, err := c.Publisher.Publish(ctx, c.Topic, msg); err != nil {
		logger.Error("ballot submission failed",
			"event", "voting_machine_submit_failed",
			"module", "election/voting-machine",
			"layer", "application",
			"election_id", ballot.ElectionID,
			"machine_id", ballot.MachineID,
			"correlation_id", ballot.CorrelationID,
			"error", err.Error(),
		)
		return entities.Receipt{}, fmt.Errorf("submit ballot %s: %w", ballot.CorrelationID, err)
	}
	logger.Debug("ballot submitted",
		"event", "voting_machine_ballot_submitted",
		"module", "election/voting-machine",
		"layer", "application",
		"election_id", ballot.ElectionID,
		"machine_id", ballot.MachineID,
		"voter_id", ballot.VoterID,
		"correlation_id", ballot.CorrelationID,
	)

	wait := c.ResultWait
	if wait <= 0 {
		wait = defaultResultWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	receipt := entities.Receipt{Ballot: ballot}
	select {
	case outcome := <-w.outcome:
		receipt.Outcome = outcome
	case <-timer.C:
		receipt.Outcome = entities.OutcomeTimedOut
		logger.Warn("ballot result timed out",
			"event", "voting_machine_result_timeout",
			"module", "election/voting-machine",
			"layer", "application",
			"election_id", ballot.ElectionID,
			"machine_id", ballot.MachineID,
			"correlation_id", ballot.CorrelationID,
			"wait", wait.String(),
		)
	case <-ctx.Done():
		return entities.Receipt{}, ctx.Err()
	}
	receipt.Waited = c.now().Sub(started)
	return receipt, nil
}

// HandleResult routes a result message to the waiting ballot. Results for
// other machines or for ballots no longer outstanding are acknowledged and
// dropped.
func (c *Client) HandleResult(ctx context.Context, msg messagesv1.Message) error {
	logger := application.ResolveLogger(c.Logger)
	if msg.Attribute(messagesv1.AttrFunction) != messagesv1.FunctionResult {
		return nil
	}
	if target := msg.Attribute(messagesv1.AttrMachineID); target != strconv.FormatInt(c.MachineID, 10) {
		logger.Warn("result addressed to another machine",
			"event", "voting_machine_foreign_result",
			"module", "election/voting-machine",
			"layer", "application",
			"machine_id", c.MachineID,
			"target_machine_id", target,
			"message_id", msg.ID,
		)
		return nil
	}

	result, err := messagesv1.DecodeResult(msg.Data)
	if err != nil {
		return err
	}
	outcome, ok := entities.OutcomeFromResult(result.Result, messagesv1.ResultSuccessful, messagesv1.ResultAlreadyVoted)
	if !ok {
		return fmt.Errorf("%w: unknown result %q", messagesv1.ErrMalformedPayload, result.Result)
	}

	if !c.deliver(result.UUID, outcome) {
		logger.Info("result for ballot no longer awaited",
			"event", "voting_machine_unmatched_result",
			"module", "election/voting-machine",
			"layer", "application",
			"machine_id", c.MachineID,
			"correlation_id", result.UUID,
			"outcome", outcome.String(),
		)
		return nil
	}
	logger.Info("ballot result received",
		"event", "voting_machine_result_received",
		"module", "election/voting-machine",
		"layer", "application",
		"election_id", c.ElectionID,
		"machine_id", c.MachineID,
		"correlation_id", result.UUID,
		"outcome", outcome.String(),
	)
	return nil
}

func (c *Client) State() entities.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return entities.StateAwaitingResult
	}
	return entities.StateIdle
}

func (c *Client) begin(correlationID string) (*waiter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return nil, domainerrors.ErrBusy
	}
	w := &waiter{
		correlationID: correlationID,
		outcome:       make(chan entities.Outcome, 1),
	}
	c.pending = w
	return w, nil
}

func (c *Client) finish(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == w {
		c.pending = nil
	}
}

func (c *Client) deliver(correlationID string, outcome entities.Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil || c.pending.correlationID != strings.TrimSpace(correlationID) {
		return false
	}
	select {
	case c.pending.outcome <- outcome:
	default:
	}
	return true
}

func (c *Client) now() time.Time {
	if c.Clock == nil {
		return time.Now().UTC()
	}
	return c.Clock.Now()
}
