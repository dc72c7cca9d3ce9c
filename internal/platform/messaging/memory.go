package messaging

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	messagesv1 "ballotbox/contracts/gen/messages/v1"

	"github.com/pkg/errors"
)

const (
	defaultAckDeadline    = 10 * time.Second
	defaultMaxOutstanding = 16
	defaultNackDelay      = 100 * time.Millisecond

	AttrDeadLetterSource   = "deadLetterSourceSubscription"
	AttrDeadLetterAttempts = "deadLetterDeliveryAttempts"
)

// Memory is the in-process broker used by tests and single-process runs.
// It keeps the semantics of the managed broker: server-side attribute
// filtering, independent fan-out per subscription, leases that expire after
// the ack deadline, redelivery on nack, and dead-lettering after the
// configured number of delivery attempts.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]*memorySubscription
	closed bool

	seq       atomic.Uint64
	nackDelay time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

type MemoryOption func(*Memory)

// WithNackDelay sets how long a nacked message waits before it is eligible
// for redelivery. Zero requeues immediately.
func WithNackDelay(delay time.Duration) MemoryOption {
	return func(m *Memory) {
		if delay >= 0 {
			m.nackDelay = delay
		}
	}
}

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(logger *slog.Logger, opts ...MemoryOption) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Memory{
		subs:      make(map[string]*memorySubscription),
		nackDelay: defaultNackDelay,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type memoryDelivery struct {
	msg      messagesv1.Message
	attempts int
}

type memoryLease struct {
	delivery *memoryDelivery
	deadline time.Time
}

type memorySubscription struct {
	cfg SubscriptionConfig

	mu        sync.Mutex
	queue     []*memoryDelivery
	leases    map[uint64]*memoryLease
	nextLease uint64
	receiving bool
	wake      chan struct{}
}

func newMemorySubscription(cfg SubscriptionConfig) *memorySubscription {
	if cfg.AckDeadline <= 0 {
		cfg.AckDeadline = defaultAckDeadline
	}
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = defaultMaxOutstanding
	}
	return &memorySubscription{
		cfg:    cfg,
		leases: make(map[uint64]*memoryLease),
		wake:   make(chan struct{}, 1),
	}
}

func (m *Memory) EnsureTopic(_ context.Context, _ string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrBrokerClosed
	}
	return nil
}

func (m *Memory) Publish(ctx context.Context, topic string, msg messagesv1.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrapf(err, "publish to %s", topic)
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return "", ErrBrokerClosed
	}
	subs := make([]*memorySubscription, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.cfg.Topic == topic {
			subs = append(subs, sub)
		}
	}
	m.mu.RUnlock()

	id := strconv.FormatUint(m.seq.Add(1), 10)
	publishTime := m.now()
	matched := 0
	for _, sub := range subs {
		if !sub.cfg.Filter.Match(msg.Attributes) {
			continue
		}
		matched++
		sub.enqueue(&memoryDelivery{msg: messagesv1.Message{
			ID:          id,
			Data:        append([]byte(nil), msg.Data...),
			Attributes:  cloneAttributes(msg.Attributes),
			PublishTime: publishTime,
		}})
	}

	m.logger.Debug("message published",
		"event", "memory_broker_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"message_id", id,
		"function", msg.Attributes[messagesv1.AttrFunction],
		"matched_subscriptions", matched,
	)
	return id, nil
}

func (m *Memory) CreateSubscription(_ context.Context, cfg SubscriptionConfig) SubscriptionResult {
	if err := cfg.validate(); err != nil {
		return failed(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return failed(ErrBrokerClosed)
	}
	if existing, ok := m.subs[cfg.ID]; ok {
		if existing.cfg.Topic == cfg.Topic && existing.cfg.Filter.Equal(cfg.Filter) {
			return alreadyExists()
		}
		return failed(errors.Wrapf(ErrSubscriptionMismatch, "subscription %s", cfg.ID))
	}
	m.subs[cfg.ID] = newMemorySubscription(cfg)
	return created()
}

func (m *Memory) Receive(ctx context.Context, subscriptionID string, handler Handler) error {
	m.mu.RLock()
	sub, ok := m.subs[subscriptionID]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrBrokerClosed
	}
	if !ok {
		return errors.Wrapf(ErrSubscriptionNotFound, "receive %s", subscriptionID)
	}
	if !sub.startReceiving() {
		return errors.Wrapf(ErrAlreadyReceiving, "receive %s", subscriptionID)
	}
	defer sub.stopReceiving()

	// Handlers outlive the receive context so in-flight work can finish during
	// shutdown; only the pull loop stops on cancellation.
	handlerCtx := context.WithoutCancel(ctx)
	slots := make(chan struct{}, sub.cfg.MaxOutstanding)
	scan := time.NewTicker(leaseScanInterval(sub.cfg.AckDeadline))
	defer scan.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	m.logger.Info("memory receiver started",
		"event", "memory_broker_receive_started",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"subscription_id", subscriptionID,
		"max_outstanding", sub.cfg.MaxOutstanding,
	)
	for {
		m.dispatch(ctx, handlerCtx, sub, slots, &inflight, handler)
		select {
		case <-ctx.Done():
			m.logger.Info("memory receiver stopping",
				"event", "memory_broker_receive_stopping",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"subscription_id", subscriptionID,
			)
			return nil
		case <-sub.wake:
		case <-scan.C:
			m.expireLeases(sub)
		}
	}
}

func (m *Memory) dispatch(
	ctx context.Context,
	handlerCtx context.Context,
	sub *memorySubscription,
	slots chan struct{},
	inflight *sync.WaitGroup,
	handler Handler,
) {
	for ctx.Err() == nil {
		select {
		case slots <- struct{}{}:
		default:
			return
		}
		token, msg, ok := sub.lease(m.now())
		if !ok {
			<-slots
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			err := invokeHandler(handlerCtx, handler, msg)
			m.settle(sub, token, msg, err)
			<-slots
			sub.signal()
		}()
	}
}

func (m *Memory) settle(sub *memorySubscription, token uint64, msg messagesv1.Message, handlerErr error) {
	sub.mu.Lock()
	lease, active := sub.leases[token]
	delete(sub.leases, token)

	if handlerErr == nil {
		if !active {
			// Late ack after the lease expired: drop the queued redelivery if it
			// has not been handed out yet.
			sub.dropQueuedLocked(msg.ID)
		}
		sub.mu.Unlock()
		return
	}
	sub.mu.Unlock()
	if !active {
		return
	}

	m.logger.Warn("message nacked",
		"event", "memory_broker_nack",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"subscription_id", sub.cfg.ID,
		"message_id", msg.ID,
		"delivery_attempt", msg.DeliveryAttempt,
		"error", handlerErr.Error(),
	)
	if sub.exhausted(lease.delivery) {
		m.deadLetter(sub, lease.delivery)
		return
	}
	if m.nackDelay <= 0 {
		sub.enqueue(lease.delivery)
		return
	}
	time.AfterFunc(m.nackDelay, func() { sub.enqueue(lease.delivery) })
}

func (m *Memory) expireLeases(sub *memorySubscription) {
	now := m.now()
	var expired []*memoryDelivery

	sub.mu.Lock()
	for token, lease := range sub.leases {
		if now.After(lease.deadline) {
			delete(sub.leases, token)
			expired = append(expired, lease.delivery)
		}
	}
	sub.mu.Unlock()

	for _, delivery := range expired {
		m.logger.Warn("ack deadline expired; redelivering",
			"event", "memory_broker_lease_expired",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"subscription_id", sub.cfg.ID,
			"message_id", delivery.msg.ID,
			"delivery_attempt", delivery.attempts,
		)
		if sub.exhausted(delivery) {
			m.deadLetter(sub, delivery)
			continue
		}
		sub.enqueue(delivery)
	}
}

func (m *Memory) deadLetter(sub *memorySubscription, delivery *memoryDelivery) {
	attrs := cloneAttributes(delivery.msg.Attributes)
	attrs[AttrDeadLetterSource] = sub.cfg.ID
	attrs[AttrDeadLetterAttempts] = strconv.Itoa(delivery.attempts)
	_, err := m.Publish(context.Background(), sub.cfg.DeadLetterTopic, messagesv1.Message{
		Data:       delivery.msg.Data,
		Attributes: attrs,
	})
	if err != nil {
		m.logger.Error("dead letter publish failed",
			"event", "memory_broker_dead_letter_failed",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"subscription_id", sub.cfg.ID,
			"message_id", delivery.msg.ID,
			"error", err.Error(),
		)
		sub.enqueue(delivery)
		return
	}
	m.logger.Warn("message dead-lettered",
		"event", "memory_broker_dead_lettered",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"subscription_id", sub.cfg.ID,
		"dead_letter_topic", sub.cfg.DeadLetterTopic,
		"message_id", delivery.msg.ID,
		"delivery_attempts", delivery.attempts,
	)
}

// Backlog reports queued and leased message counts for a subscription.
func (m *Memory) Backlog(subscriptionID string) (queued int, leased int) {
	m.mu.RLock()
	sub, ok := m.subs[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.queue), len(sub.leases)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (s *memorySubscription) enqueue(delivery *memoryDelivery) {
	s.mu.Lock()
	s.queue = append(s.queue, delivery)
	s.mu.Unlock()
	s.signal()
}

func (s *memorySubscription) lease(now time.Time) (uint64, messagesv1.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, messagesv1.Message{}, false
	}
	delivery := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]

	delivery.attempts++
	delivery.msg.DeliveryAttempt = delivery.attempts
	s.nextLease++
	token := s.nextLease
	s.leases[token] = &memoryLease{delivery: delivery, deadline: now.Add(s.cfg.AckDeadline)}
	return token, delivery.msg, true
}

func (s *memorySubscription) dropQueuedLocked(messageID string) {
	kept := s.queue[:0]
	for _, delivery := range s.queue {
		if delivery.msg.ID != messageID {
			kept = append(kept, delivery)
		}
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
}

func (s *memorySubscription) exhausted(delivery *memoryDelivery) bool {
	return s.cfg.DeadLetterTopic != "" &&
		s.cfg.MaxDeliveryAttempts > 0 &&
		delivery.attempts >= s.cfg.MaxDeliveryAttempts
}

func (s *memorySubscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) startReceiving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiving {
		return false
	}
	s.receiving = true
	return true
}

func (s *memorySubscription) stopReceiving() {
	s.mu.Lock()
	s.receiving = false
	s.mu.Unlock()
}

func leaseScanInterval(ackDeadline time.Duration) time.Duration {
	interval := ackDeadline / 4
	if interval < 5*time.Millisecond {
		return 5 * time.Millisecond
	}
	if interval > time.Second {
		return time.Second
	}
	return interval
}

var _ Broker = (*Memory)(nil)
