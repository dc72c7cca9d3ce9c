package workers

import (
	"context"
	"log/slog"
	"time"

	application "ballotbox/contexts/election/voting-machine/application"
	"ballotbox/contexts/election/voting-machine/application/commands"
	"ballotbox/contexts/election/voting-machine/domain/entities"
	"ballotbox/contexts/election/voting-machine/ports"
)

// Summary counts what a voting loop observed.
type Summary struct {
	Recorded     int
	AlreadyVoted int
	TimedOut     int
	Failed       int
}

// VotingLoop casts one ballot per round. A timed-out ballot is not retried;
// the loop moves on to the next voter. Rounds <= 0 runs until ctx ends.
type VotingLoop struct {
	Client     *commands.Client
	Voters     ports.VoterSource
	RoundDelay time.Duration
	Rounds     int
	Logger     *slog.Logger
}

func (l VotingLoop) Run(ctx context.Context) (Summary, error) {
	logger := application.ResolveLogger(l.Logger)
	var summary Summary
	for round := 1; l.Rounds <= 0 || round <= l.Rounds; round++ {
		if ctx.Err() != nil {
			return summary, nil
		}
		voterID, choice := l.Voters.Next()
		receipt, err := l.Client.SubmitBallot(ctx, voterID, choice)
		switch {
		case err != nil && ctx.Err() != nil:
			return summary, nil
		case err != nil:
			summary.Failed++
			logger.Error("voting round failed",
				"event", "voting_machine_round_failed",
				"module", "election/voting-machine",
				"layer", "worker",
				"round", round,
				"error", err.Error(),
			)
		default:
			switch receipt.Outcome {
			case entities.OutcomeRecorded:
				summary.Recorded++
			case entities.OutcomeAlreadyVoted:
				summary.AlreadyVoted++
			case entities.OutcomeTimedOut:
				summary.TimedOut++
			}
			logger.Info("voting round finished",
				"event", "voting_machine_round_finished",
				"module", "election/voting-machine",
				"layer", "worker",
				"round", round,
				"election_id", receipt.Ballot.ElectionID,
				"machine_id", receipt.Ballot.MachineID,
				"correlation_id", receipt.Ballot.CorrelationID,
				"outcome", receipt.Outcome.String(),
				"waited", receipt.Waited.String(),
			)
		}

		if l.RoundDelay > 0 {
			timer := time.NewTimer(l.RoundDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return summary, nil
			case <-timer.C:
			}
		}
	}
	return summary, nil
}
