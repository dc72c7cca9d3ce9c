package messaging

import (
	"context"
	"log/slog"

	messagesv1 "ballotbox/contracts/gen/messages/v1"

	"github.com/sanity-io/litter"
)

// Subscription binds a broker to one subscription config so services can
// depend on a plain Subscribe method.
type Subscription struct {
	Broker Broker
	Config SubscriptionConfig
	Logger *slog.Logger
	// Debug dumps every delivery before it reaches the handler.
	Debug bool
}

func (s Subscription) Subscribe(ctx context.Context, handler func(context.Context, messagesv1.Message) error) error {
	return Subscribe(ctx, s.Broker, s.Config, s.wrap(handler), s.Logger)
}

func (s Subscription) wrap(handler func(context.Context, messagesv1.Message) error) Handler {
	if !s.Debug {
		return handler
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, msg messagesv1.Message) error {
		logger.Debug("message received",
			"event", "messaging_message_received",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"subscription_id", s.Config.ID,
			"message", litter.Sdump(msg),
		)
		err := handler(ctx, msg)
		if err != nil {
			logger.Debug("message handler failed",
				"event", "messaging_message_nacked",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"subscription_id", s.Config.ID,
				"message_id", msg.ID,
				"error", err.Error(),
			)
		}
		return err
	}
}
