package ports

import (
	"context"
	"time"

	"ballotbox/contexts/election/vote-recorder/domain/entities"
	messagesv1 "ballotbox/contracts/gen/messages/v1"
)

// Ledger is the durable record of votes. RecordVote inserts the vote and its
// pending result notice in one transaction; a second call with the same
// BallotUUID changes nothing and reports the stored state.
type Ledger interface {
	RecordVote(ctx context.Context, vote entities.VoteRecord, notice entities.ResultNotice) (entities.Receipt, error)
	ListVotesByElection(ctx context.Context, electionID int64) ([]entities.VoteRecord, error)
}

type ResultOutbox interface {
	ListPendingResults(ctx context.Context, limit int) ([]entities.ResultNotice, error)
	MarkResultPublished(ctx context.Context, ballotUUID string, publishedAt time.Time) error
}

type MessagePublisher interface {
	Publish(ctx context.Context, topic string, msg messagesv1.Message) (string, error)
}

type RecordSubscriber interface {
	Subscribe(ctx context.Context, handler func(context.Context, messagesv1.Message) error) error
}

type Clock interface {
	Now() time.Time
}
