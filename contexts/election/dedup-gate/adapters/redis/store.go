package redisadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ballotbox/contexts/election/dedup-gate/domain/entities"
	domainerrors "ballotbox/contexts/election/dedup-gate/domain/errors"
	"ballotbox/contexts/election/dedup-gate/ports"
	"ballotbox/internal/platform/retry"

	"github.com/redis/go-redis/v9"
)

const confirmAttempts = 5

type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store keeps dedup marks as plain Redis strings without expiry. SETNX is
// the atomic check-and-set.
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// Dial connects and pings until Redis answers or policy is exhausted.
func Dial(ctx context.Context, opts Options, policy retry.Policy, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	err := retry.Do(ctx, policy, logger, "redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info("connected to redis",
		"event", "dedup_redis_connected",
		"module", "election/dedup-gate",
		"layer", "adapter",
		"addr", opts.Addr,
	)
	return NewStore(client, logger), nil
}

func NewStore(client *redis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}
}

func (s *Store) Reserve(ctx context.Context, key entities.DedupKey, mark entities.Mark) (entities.Mark, bool, error) {
	set, err := s.client.SetNX(ctx, key.String(), mark.Encode(), 0).Result()
	if err != nil {
		return entities.Mark{}, false, s.logError("dedup_redis_setnx_failed", err, "key", key.String())
	}
	if set {
		return mark, true, nil
	}

	raw, err := s.client.Get(ctx, key.String()).Result()
	if err != nil {
		return entities.Mark{}, false, s.logError("dedup_redis_get_failed", err, "key", key.String())
	}
	existing, err := entities.DecodeMark(raw)
	if err != nil {
		return entities.Mark{}, false, s.logError("dedup_redis_decode_failed", err, "key", key.String())
	}
	return existing, false, nil
}

// ConfirmForwarded flips the forwarded flag under WATCH so a concurrent
// writer cannot be overwritten.
func (s *Store) ConfirmForwarded(ctx context.Context, key entities.DedupKey, correlationID string) error {
	name := key.String()
	confirm := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, name).Result()
		if errors.Is(err, redis.Nil) {
			return domainerrors.ErrMarkNotFound
		}
		if err != nil {
			return err
		}
		mark, err := entities.DecodeMark(raw)
		if err != nil {
			return err
		}
		if mark.CorrelationID != correlationID {
			return domainerrors.ErrMarkOwnership
		}
		if mark.Forwarded {
			return nil
		}
		mark.Forwarded = true
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, name, mark.Encode(), 0)
			return nil
		})
		return err
	}

	for i := 0; i < confirmAttempts; i++ {
		err := s.client.Watch(ctx, confirm, name)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return s.logError("dedup_redis_confirm_failed", err, "key", name, "correlation_id", correlationID)
		}
		return nil
	}
	return s.logError("dedup_redis_confirm_contended", domainerrors.ErrStoreContended, "key", name)
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "election/dedup-gate",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("redis dedup store operation failed", fields...)
	return fmt.Errorf("redis dedup store: %w", err)
}

var _ ports.DedupStore = (*Store)(nil)
