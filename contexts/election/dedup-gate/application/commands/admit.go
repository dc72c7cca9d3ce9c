package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	application "ballotbox/contexts/election/dedup-gate/application"
	"ballotbox/contexts/election/dedup-gate/domain/entities"
	domainerrors "ballotbox/contexts/election/dedup-gate/domain/errors"
	"ballotbox/contexts/election/dedup-gate/ports"
	messagesv1 "ballotbox/contracts/gen/messages/v1"
)

// AdmitUseCase lets exactly one ballot per (voter, election) through to the
// recorder and answers every other one with AlreadyVoted.
type AdmitUseCase struct {
	Store     ports.DedupStore
	Publisher ports.MessagePublisher
	Topic     string
	// ConfirmAttempts bounds how often a forwarded mark is confirmed before
	// the submission is handed back for redelivery. Defaults to 3.
	ConfirmAttempts int
	Logger          *slog.Logger
}

// Admit reserves the ballot's dedup key and then either forwards the ballot
// or reports AlreadyVoted to the originating machine. A returned error means
// nothing was acknowledged downstream and the submission must be redelivered.
func (uc AdmitUseCase) Admit(ctx context.Context, ballot entities.Ballot) (entities.Decision, error) {
	logger := application.ResolveLogger(uc.Logger)
	if strings.TrimSpace(ballot.CorrelationID) == "" {
		return entities.DecisionAlreadyVoted, domainerrors.ErrInvalidBallot
	}
	key := ballot.Key()

	stored, reserved, err := uc.Store.Reserve(ctx, key, entities.Mark{
		Timestamp:     ballot.Timestamp,
		CorrelationID: ballot.CorrelationID,
	})
	if err != nil {
		logger.Error("dedup reserve failed",
			"event", "dedup_gate_reserve_failed",
			"module", "election/dedup-gate",
			"layer", "application",
			"election_id", ballot.ElectionID,
			"correlation_id", ballot.CorrelationID,
			"error", err.Error(),
		)
		return entities.DecisionAlreadyVoted, err
	}

	decision := entities.Decide(stored, reserved, ballot.CorrelationID)
	if decision == entities.DecisionAlreadyVoted {
		if err := uc.publishAlreadyVoted(ctx, ballot); err != nil {
			return decision, err
		}
		logger.Info("ballot rejected as duplicate",
			"event", "dedup_gate_already_voted",
			"module", "election/dedup-gate",
			"layer", "application",
			"election_id", ballot.ElectionID,
			"machine_id", ballot.MachineID,
			"correlation_id", ballot.CorrelationID,
			"first_correlation_id", stored.CorrelationID,
		)
		return decision, nil
	}

	msg, err := messagesv1.NewForwardedMessage(forwardedPayload(ballot.Forward()))
	if err != nil {
		return decision, err
	}
	if _, err := uc.Publisher.Publish(ctx, uc.Topic, msg); err != nil {
		// The mark stays unforwarded so the redelivered submission is
		// forwarded again rather than reported as a duplicate.
		logger.Error("ballot forward failed",
			"event", "dedup_gate_forward_failed",
			"module", "election/dedup-gate",
			"layer", "application",
			"election_id", ballot.ElectionID,
			"correlation_id", ballot.CorrelationID,
			"decision", decision.String(),
			"error", err.Error(),
		)
		return decision, fmt.Errorf("forward ballot %s: %w", ballot.CorrelationID, err)
	}

	if err := uc.confirm(ctx, key, ballot.CorrelationID); err != nil {
		// The redelivered submission re-forwards under the same UUID, which
		// the ledger absorbs.
		logger.Error("dedup mark confirmation failed",
			"event", "dedup_gate_confirm_failed",
			"module", "election/dedup-gate",
			"layer", "application",
			"election_id", ballot.ElectionID,
			"correlation_id", ballot.CorrelationID,
			"error", err.Error(),
		)
		return decision, fmt.Errorf("confirm dedup mark %s: %w", ballot.CorrelationID, err)
	}
	logger.Info("ballot forwarded",
		"event", "dedup_gate_forwarded",
		"module", "election/dedup-gate",
		"layer", "application",
		"election_id", ballot.ElectionID,
		"machine_id", ballot.MachineID,
		"correlation_id", ballot.CorrelationID,
		"decision", decision.String(),
	)
	return decision, nil
}

func (uc AdmitUseCase) confirm(ctx context.Context, key entities.DedupKey, correlationID string) error {
	attempts := uc.ConfirmAttempts
	if attempts <= 0 {
		attempts = 3
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = uc.Store.ConfirmForwarded(ctx, key, correlationID)
		if err == nil ||
			errors.Is(err, domainerrors.ErrMarkOwnership) ||
			errors.Is(err, domainerrors.ErrMarkNotFound) ||
			ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (uc AdmitUseCase) publishAlreadyVoted(ctx context.Context, ballot entities.Ballot) error {
	msg, err := messagesv1.NewResultMessage(messagesv1.Result{
		Result: messagesv1.ResultAlreadyVoted,
		UUID:   ballot.CorrelationID,
	}, ballot.MachineID)
	if err != nil {
		return err
	}
	if _, err := uc.Publisher.Publish(ctx, uc.Topic, msg); err != nil {
		application.ResolveLogger(uc.Logger).Error("already voted result publish failed",
			"event", "dedup_gate_result_publish_failed",
			"module", "election/dedup-gate",
			"layer", "application",
			"machine_id", ballot.MachineID,
			"correlation_id", ballot.CorrelationID,
			"error", err.Error(),
		)
		return fmt.Errorf("publish already voted result %s: %w", ballot.CorrelationID, err)
	}
	return nil
}

func forwardedPayload(f entities.ForwardedBallot) messagesv1.Forwarded {
	return messagesv1.Forwarded{
		MachineID:  f.MachineID,
		Voting:     f.Choice,
		ElectionID: f.ElectionID,
		UUID:       f.CorrelationID,
	}
}
