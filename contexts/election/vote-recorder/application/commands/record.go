package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "ballotbox/contexts/election/vote-recorder/application"
	"ballotbox/contexts/election/vote-recorder/domain/entities"
	domainerrors "ballotbox/contexts/election/vote-recorder/domain/errors"
	"ballotbox/contexts/election/vote-recorder/ports"
	messagesv1 "ballotbox/contracts/gen/messages/v1"
)

// RecordUseCase commits forwarded ballots and answers the originating
// machine with a "successful" result.
type RecordUseCase struct {
	Ledger    ports.Ledger
	Outbox    ports.ResultOutbox
	Publisher ports.MessagePublisher
	Topic     string
	Clock     ports.Clock
	Logger    *slog.Logger
}

// Record is safe to repeat for the same ballot: the ledger keeps one row per
// BallotUUID and the result is published again so a waiting machine still
// gets its answer. An error means the ballot must be redelivered.
func (uc RecordUseCase) Record(ctx context.Context, vote entities.VoteRecord) (entities.Receipt, error) {
	logger := application.ResolveLogger(uc.Logger)
	vote.BallotUUID = strings.TrimSpace(vote.BallotUUID)
	if vote.BallotUUID == "" {
		return entities.Receipt{}, domainerrors.ErrInvalidVote
	}

	now := uc.now()
	vote.RecordedAt = now
	notice := entities.ResultNotice{
		BallotUUID: vote.BallotUUID,
		MachineID:  vote.MachineID,
		Result:     messagesv1.ResultSuccessful,
		CreatedAt:  now,
	}

	receipt, err := uc.Ledger.RecordVote(ctx, vote, notice)
	if err != nil {
		logger.Error("vote record failed",
			"event", "vote_recorder_record_failed",
			"module", "election/vote-recorder",
			"layer", "application",
			"election_id", vote.ElectionID,
			"ballot_uuid", vote.BallotUUID,
			"error", err.Error(),
		)
		return entities.Receipt{}, err
	}
	if !receipt.Inserted {
		logger.Info("vote already recorded",
			"event", "vote_recorder_replayed",
			"module", "election/vote-recorder",
			"layer", "application",
			"election_id", vote.ElectionID,
			"ballot_uuid", vote.BallotUUID,
			"result_published", receipt.ResultPublished,
		)
	}

	msg, err := ResultMessage(notice)
	if err != nil {
		return receipt, err
	}
	if _, err := uc.Publisher.Publish(ctx, uc.Topic, msg); err != nil {
		logger.Error("recorded result publish failed",
			"event", "vote_recorder_result_publish_failed",
			"module", "election/vote-recorder",
			"layer", "application",
			"machine_id", vote.MachineID,
			"ballot_uuid", vote.BallotUUID,
			"error", err.Error(),
		)
		return receipt, fmt.Errorf("publish recorded result %s: %w", vote.BallotUUID, err)
	}

	if !receipt.ResultPublished {
		if err := uc.Outbox.MarkResultPublished(ctx, vote.BallotUUID, now); err != nil {
			// The relay republishes the row; machines ignore duplicate results.
			logger.Warn("recorded result mark published failed",
				"event", "vote_recorder_mark_published_failed",
				"module", "election/vote-recorder",
				"layer", "application",
				"ballot_uuid", vote.BallotUUID,
				"error", err.Error(),
			)
		} else {
			receipt.ResultPublished = true
		}
	}

	logger.Info("vote recorded",
		"event", "vote_recorder_recorded",
		"module", "election/vote-recorder",
		"layer", "application",
		"election_id", vote.ElectionID,
		"machine_id", vote.MachineID,
		"ballot_uuid", vote.BallotUUID,
		"inserted", receipt.Inserted,
	)
	return receipt, nil
}

// ResultMessage builds the function=result message for a stored notice.
func ResultMessage(notice entities.ResultNotice) (messagesv1.Message, error) {
	return messagesv1.NewResultMessage(messagesv1.Result{
		Result: notice.Result,
		UUID:   notice.BallotUUID,
	}, notice.MachineID)
}

func (uc RecordUseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}
