package workers

import (
	"context"
	"log/slog"
	"time"

	application "ballotbox/contexts/election/vote-recorder/application"
	"ballotbox/contexts/election/vote-recorder/application/commands"
	"ballotbox/contexts/election/vote-recorder/ports"
)

// ResultRelay republishes recorded results whose first publish failed.
type ResultRelay struct {
	Outbox    ports.ResultOutbox
	Publisher ports.MessagePublisher
	Topic     string
	Clock     ports.Clock
	BatchSize int
	Interval  time.Duration
	Logger    *slog.Logger
}

// Start runs RunOnce every Interval until ctx is cancelled. Cycle failures
// are logged and retried on the next tick.
func (r ResultRelay) Start(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_ = r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce publishes a bounded batch of pending results and marks each one
// published only after the broker accepted it. It stops on the first
// failure so the next cycle retries the remaining rows.
func (r ResultRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	pending, err := r.Outbox.ListPendingResults(ctx, limit)
	if err != nil {
		logger.Error("result outbox list failed",
			"event", "vote_recorder_outbox_list_failed",
			"module", "election/vote-recorder",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if len(pending) == 0 {
		logger.Debug("result relay found no pending rows",
			"event", "vote_recorder_outbox_relay_noop",
			"module", "election/vote-recorder",
			"layer", "worker",
			"batch_size", limit,
		)
		return nil
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	for _, notice := range pending {
		msg, err := commands.ResultMessage(notice)
		if err != nil {
			return err
		}
		if _, err := r.Publisher.Publish(ctx, r.Topic, msg); err != nil {
			logger.Error("result outbox publish failed",
				"event", "vote_recorder_outbox_publish_failed",
				"module", "election/vote-recorder",
				"layer", "worker",
				"ballot_uuid", notice.BallotUUID,
				"machine_id", notice.MachineID,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Outbox.MarkResultPublished(ctx, notice.BallotUUID, now); err != nil {
			logger.Error("result outbox mark published failed",
				"event", "vote_recorder_outbox_mark_published_failed",
				"module", "election/vote-recorder",
				"layer", "worker",
				"ballot_uuid", notice.BallotUUID,
				"error", err.Error(),
			)
			return err
		}
	}

	logger.Info("result relay cycle completed",
		"event", "vote_recorder_outbox_relay_completed",
		"module", "election/vote-recorder",
		"layer", "worker",
		"published_count", len(pending),
	)
	return nil
}
