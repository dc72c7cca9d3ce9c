package queries

import (
	"context"

	"ballotbox/contexts/election/vote-recorder/domain/entities"
	domainerrors "ballotbox/contexts/election/vote-recorder/domain/errors"
	"ballotbox/contexts/election/vote-recorder/ports"
)

type TallyUseCase struct {
	Votes ports.Ledger
}

func (uc TallyUseCase) ElectionTally(ctx context.Context, electionID int64) (entities.Tally, error) {
	if electionID < 0 {
		return entities.Tally{}, domainerrors.ErrInvalidElection
	}
	votes, err := uc.Votes.ListVotesByElection(ctx, electionID)
	if err != nil {
		return entities.Tally{}, err
	}
	return entities.CountVotes(electionID, votes), nil
}
