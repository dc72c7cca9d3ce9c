package ports

import (
	"context"

	"ballotbox/contexts/election/dedup-gate/domain/entities"
	messagesv1 "ballotbox/contracts/gen/messages/v1"
)

// DedupStore is the sole authority on whether a voter has voted.
type DedupStore interface {
	// Reserve stores mark under key only if the key is absent, as a single
	// atomic step. It returns the mark held after the call and whether this
	// call wrote it.
	Reserve(ctx context.Context, key entities.DedupKey, mark entities.Mark) (entities.Mark, bool, error)
	// ConfirmForwarded sets Forwarded on the mark owned by correlationID.
	ConfirmForwarded(ctx context.Context, key entities.DedupKey, correlationID string) error
}

type MessagePublisher interface {
	Publish(ctx context.Context, topic string, msg messagesv1.Message) (string, error)
}

// SubmissionSubscriber delivers submissions until ctx is cancelled. A nil
// handler return acknowledges the message.
type SubmissionSubscriber interface {
	Subscribe(ctx context.Context, handler func(context.Context, messagesv1.Message) error) error
}
