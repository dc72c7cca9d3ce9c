package httpadapter

import (
	"context"
	"log/slog"

	"ballotbox/contexts/election/vote-recorder/application/queries"
	httptransport "ballotbox/contexts/election/vote-recorder/transport/http"
)

type Handler struct {
	Tallies queries.TallyUseCase
	Logger  *slog.Logger
}

func (h Handler) ElectionTallyHandler(ctx context.Context, electionID int64) (httptransport.TallyResponse, error) {
	tally, err := h.Tallies.ElectionTally(ctx, electionID)
	if err != nil {
		return httptransport.TallyResponse{}, err
	}
	choices := make([]httptransport.ChoiceCount, 0, len(tally.Choices))
	for _, c := range tally.Choices {
		choices = append(choices, httptransport.ChoiceCount{
			Choice: c.Choice,
			Votes:  c.Votes,
		})
	}
	return httptransport.TallyResponse{
		ElectionID: tally.ElectionID,
		TotalVotes: tally.Total,
		Choices:    choices,
	}, nil
}
