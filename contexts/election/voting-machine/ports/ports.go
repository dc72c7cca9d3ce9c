package ports

import (
	"context"
	"time"

	messagesv1 "ballotbox/contracts/gen/messages/v1"
)

type MessagePublisher interface {
	Publish(ctx context.Context, topic string, msg messagesv1.Message) (string, error)
}

// ResultSubscriber delivers the results addressed to this machine until ctx
// is cancelled.
type ResultSubscriber interface {
	Subscribe(ctx context.Context, handler func(context.Context, messagesv1.Message) error) error
}

type IDGenerator interface {
	NewID() (string, error)
}

// VoterSource picks the next voter and choice to cast.
type VoterSource interface {
	Next() (voterID int64, choice int64)
}

type Clock interface {
	Now() time.Time
}
