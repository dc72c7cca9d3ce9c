package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// Policy is a bounded constant-delay retry schedule used while a process
// waits for its backing stores to come up.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, ctx is cancelled,
// or the policy is exhausted. The last error is returned wrapped with name.
func Do(ctx context.Context, policy Policy, logger *slog.Logger, name string, op func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	policy = policy.normalized()

	attempt := 0
	schedule := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Delay), uint64(policy.Attempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(func() error {
		attempt++
		return op(ctx)
	}, schedule, func(err error, wait time.Duration) {
		logger.Warn("dependency not ready; retrying",
			"event", "retry_attempt_failed",
			"module", "internal/platform/retry",
			"layer", "platform",
			"target", name,
			"attempt", attempt,
			"max_attempts", policy.Attempts,
			"retry_in", wait.String(),
			"error", err.Error(),
		)
	})
	if err != nil {
		logger.Error("dependency unavailable",
			"event", "retry_exhausted",
			"module", "internal/platform/retry",
			"layer", "platform",
			"target", name,
			"attempts", attempt,
			"error", err.Error(),
		)
		return errors.Wrapf(err, "%s unavailable after %d attempts", name, attempt)
	}
	if attempt > 1 {
		logger.Info("dependency ready",
			"event", "retry_succeeded",
			"module", "internal/platform/retry",
			"layer", "platform",
			"target", name,
			"attempts", attempt,
		)
	}
	return nil
}
