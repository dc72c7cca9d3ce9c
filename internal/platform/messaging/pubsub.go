package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	messagesv1 "ballotbox/contracts/gen/messages/v1"

	"cloud.google.com/go/pubsub"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Pub/Sub rejects ack deadlines outside [10s, 600s].
const (
	minPubSubAckDeadline = 10 * time.Second
	maxPubSubAckDeadline = 600 * time.Second
)

// PubSub adapts Google Cloud Pub/Sub to Broker. Filters are evaluated by the
// service; PUBSUB_EMULATOR_HOST is honoured by the client library.
type PubSub struct {
	client    *pubsub.Client
	projectID string

	mu          sync.Mutex
	topics      map[string]*pubsub.Topic
	outstanding map[string]int
	logger      *slog.Logger
}

func NewPubSub(ctx context.Context, projectID string, logger *slog.Logger, opts ...option.ClientOption) (*PubSub, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create pubsub client")
	}
	return &PubSub{
		client:      client,
		projectID:   projectID,
		topics:      make(map[string]*pubsub.Topic),
		outstanding: make(map[string]int),
		logger:      logger,
	}, nil
}

func (p *PubSub) topic(id string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[id]; ok {
		return t
	}
	t := p.client.Topic(id)
	p.topics[id] = t
	return t
}

func (p *PubSub) EnsureTopic(ctx context.Context, topic string) error {
	exists, err := p.topic(topic).Exists(ctx)
	if err != nil {
		return errors.Wrapf(err, "check topic %s", topic)
	}
	if exists {
		return nil
	}
	if _, err := p.client.CreateTopic(ctx, topic); err != nil && status.Code(err) != codes.AlreadyExists {
		return errors.Wrapf(err, "create topic %s", topic)
	}
	return nil
}

func (p *PubSub) Publish(ctx context.Context, topic string, msg messagesv1.Message) (string, error) {
	result := p.topic(topic).Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	id, err := result.Get(ctx)
	if err != nil {
		p.logger.Error("pubsub publish failed",
			"event", "pubsub_publish_failed",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", topic,
			"function", msg.Attributes[messagesv1.AttrFunction],
			"error", err.Error(),
		)
		return "", errors.Wrapf(err, "publish to %s", topic)
	}
	return id, nil
}

func (p *PubSub) CreateSubscription(ctx context.Context, cfg SubscriptionConfig) SubscriptionResult {
	if err := cfg.validate(); err != nil {
		return failed(err)
	}
	if cfg.MaxOutstanding > 0 {
		p.mu.Lock()
		p.outstanding[cfg.ID] = cfg.MaxOutstanding
		p.mu.Unlock()
	}
	subCfg := pubsub.SubscriptionConfig{
		Topic:       p.topic(cfg.Topic),
		Filter:      cfg.Filter.String(),
		AckDeadline: clampAckDeadline(cfg.AckDeadline),
	}
	if cfg.DeadLetterTopic != "" {
		subCfg.DeadLetterPolicy = &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     p.topic(cfg.DeadLetterTopic).String(),
			MaxDeliveryAttempts: cfg.MaxDeliveryAttempts,
		}
	}

	_, err := p.client.CreateSubscription(ctx, cfg.ID, subCfg)
	if err == nil {
		return created()
	}
	if status.Code(err) != codes.AlreadyExists {
		return failed(errors.Wrapf(err, "create subscription %s", cfg.ID))
	}

	existing, err := p.client.Subscription(cfg.ID).Config(ctx)
	if err != nil {
		return failed(errors.Wrapf(err, "load existing subscription %s", cfg.ID))
	}
	if existing.Topic == nil || existing.Topic.ID() != cfg.Topic {
		return failed(errors.Wrapf(ErrSubscriptionMismatch, "subscription %s is attached to another topic", cfg.ID))
	}
	// Pub/Sub keeps the filter text as written, so compare parsed forms.
	existingFilter, err := ParseFilter(existing.Filter)
	if err != nil || !existingFilter.Equal(cfg.Filter) {
		return failed(errors.Wrapf(ErrSubscriptionMismatch, "subscription %s has filter %q", cfg.ID, existing.Filter))
	}
	return alreadyExists()
}

func (p *PubSub) Receive(ctx context.Context, subscriptionID string, handler Handler) error {
	sub := p.client.Subscription(subscriptionID)
	p.mu.Lock()
	if n := p.outstanding[subscriptionID]; n > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = n
	}
	p.mu.Unlock()
	p.logger.Info("pubsub receiver started",
		"event", "pubsub_receive_started",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"subscription_id", subscriptionID,
		"max_outstanding", sub.ReceiveSettings.MaxOutstandingMessages,
	)
	// Receive returns only after every callback has returned, which gives the
	// drain-on-shutdown behaviour for free.
	err := sub.Receive(ctx, func(cbCtx context.Context, m *pubsub.Message) {
		msg := messagesv1.Message{
			ID:          m.ID,
			Data:        m.Data,
			Attributes:  m.Attributes,
			PublishTime: m.PublishTime,
		}
		if m.DeliveryAttempt != nil {
			msg.DeliveryAttempt = *m.DeliveryAttempt
		}
		if err := invokeHandler(context.WithoutCancel(cbCtx), handler, msg); err != nil {
			p.logger.Warn("pubsub message nacked",
				"event", "pubsub_nack",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"subscription_id", subscriptionID,
				"message_id", m.ID,
				"error", err.Error(),
			)
			m.Nack()
			return
		}
		m.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return errors.Wrapf(err, "receive %s", subscriptionID)
	}
	return nil
}

func (p *PubSub) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = map[string]*pubsub.Topic{}
	p.mu.Unlock()
	return p.client.Close()
}

func clampAckDeadline(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if d < minPubSubAckDeadline {
		return minPubSubAckDeadline
	}
	if d > maxPubSubAckDeadline {
		return maxPubSubAckDeadline
	}
	return d
}

var _ Broker = (*PubSub)(nil)
