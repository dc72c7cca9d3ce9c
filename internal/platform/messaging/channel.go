package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	messagesv1 "ballotbox/contracts/gen/messages/v1"

	"github.com/pkg/errors"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionMismatch = errors.New("subscription exists with a different topic or filter")
	ErrAlreadyReceiving     = errors.New("subscription already has an active receiver")
	ErrBrokerClosed         = errors.New("broker closed")
)

// Handler processes one delivery. Returning nil acknowledges the message;
// returning an error (or panicking) negatively acknowledges it so the broker
// redelivers it.
type Handler func(ctx context.Context, msg messagesv1.Message) error

// Broker is the attribute-routed publish/subscribe channel shared by every
// election process. Delivery is at-least-once and unordered.
type Broker interface {
	EnsureTopic(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, msg messagesv1.Message) (string, error)
	CreateSubscription(ctx context.Context, cfg SubscriptionConfig) SubscriptionResult
	// Receive blocks until ctx is cancelled. On cancellation it stops pulling
	// new messages and waits for in-flight handlers before returning.
	Receive(ctx context.Context, subscriptionID string, handler Handler) error
	Close() error
}

type SubscriptionConfig struct {
	ID                  string
	Topic               string
	Filter              Filter
	AckDeadline         time.Duration
	DeadLetterTopic     string
	MaxDeliveryAttempts int
	MaxOutstanding      int
}

func (c SubscriptionConfig) validate() error {
	var missing []string
	if strings.TrimSpace(c.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(c.Topic) == "" {
		missing = append(missing, "topic")
	}
	if len(missing) > 0 {
		return fmt.Errorf("subscription config missing %s", strings.Join(missing, ", "))
	}
	if c.DeadLetterTopic != "" && c.DeadLetterTopic == c.Topic {
		return errors.New("dead letter topic must differ from the subscription topic")
	}
	return nil
}

type SubscriptionStatus int

const (
	SubscriptionFailed SubscriptionStatus = iota
	SubscriptionCreated
	SubscriptionAlreadyExists
)

func (s SubscriptionStatus) String() string {
	switch s {
	case SubscriptionCreated:
		return "created"
	case SubscriptionAlreadyExists:
		return "already_exists"
	default:
		return "failed"
	}
}

// SubscriptionResult tags the outcome of a create call. Only Created and
// AlreadyExists are successes; Err is set exactly when Status is Failed.
type SubscriptionResult struct {
	Status SubscriptionStatus
	Err    error
}

func created() SubscriptionResult       { return SubscriptionResult{Status: SubscriptionCreated} }
func alreadyExists() SubscriptionResult { return SubscriptionResult{Status: SubscriptionAlreadyExists} }

func failed(err error) SubscriptionResult {
	return SubscriptionResult{Status: SubscriptionFailed, Err: err}
}

// EnsureSubscription creates the subscription, treating an identical existing
// one as success. Any other failure is returned.
func EnsureSubscription(ctx context.Context, broker Broker, cfg SubscriptionConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	result := broker.CreateSubscription(ctx, cfg)
	if result.Status == SubscriptionFailed {
		err := result.Err
		if err == nil {
			err = errors.New("unknown subscription failure")
		}
		logger.Error("subscription create failed",
			"event", "messaging_subscription_create_failed",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"subscription_id", cfg.ID,
			"topic", cfg.Topic,
			"filter", cfg.Filter.String(),
			"error", err.Error(),
		)
		return errors.Wrapf(err, "create subscription %s", cfg.ID)
	}
	logger.Info("subscription ready",
		"event", "messaging_subscription_ready",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"subscription_id", cfg.ID,
		"topic", cfg.Topic,
		"filter", cfg.Filter.String(),
		"status", result.Status.String(),
	)
	return nil
}

// Subscribe ensures the filtered subscription exists and then receives from it
// until ctx is cancelled.
func Subscribe(ctx context.Context, broker Broker, cfg SubscriptionConfig, handler Handler, logger *slog.Logger) error {
	if err := EnsureSubscription(ctx, broker, cfg, logger); err != nil {
		return err
	}
	return broker.Receive(ctx, cfg.ID, handler)
}

// invokeHandler converts handler panics into errors so one poisoned message
// cannot take down the receive loop.
func invokeHandler(ctx context.Context, handler Handler, msg messagesv1.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

func cloneAttributes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
