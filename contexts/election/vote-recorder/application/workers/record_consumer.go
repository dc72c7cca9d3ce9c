package workers

import (
	"context"
	"log/slog"

	application "ballotbox/contexts/election/vote-recorder/application"
	"ballotbox/contexts/election/vote-recorder/application/commands"
	"ballotbox/contexts/election/vote-recorder/domain/entities"
	"ballotbox/contexts/election/vote-recorder/ports"
	messagesv1 "ballotbox/contracts/gen/messages/v1"
)

// RecordConsumer feeds every function=record message into the ledger.
type RecordConsumer struct {
	Subscriber ports.RecordSubscriber
	Recorder   commands.RecordUseCase
	Logger     *slog.Logger
}

func (c RecordConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	logger.Info("record consumer starting",
		"event", "vote_recorder_consumer_starting",
		"module", "election/vote-recorder",
		"layer", "worker",
	)
	if err := c.Subscriber.Subscribe(ctx, c.Handle); err != nil {
		logger.Error("record consumer stopped",
			"event", "vote_recorder_consumer_failed",
			"module", "election/vote-recorder",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	return nil
}

func (c RecordConsumer) Handle(ctx context.Context, msg messagesv1.Message) error {
	logger := application.ResolveLogger(c.Logger)
	if fn := msg.Attribute(messagesv1.AttrFunction); fn != messagesv1.FunctionRecord {
		logger.Warn("unexpected message on record subscription",
			"event", "vote_recorder_unexpected_function",
			"module", "election/vote-recorder",
			"layer", "worker",
			"message_id", msg.ID,
			"function", fn,
		)
		return nil
	}

	forwarded, err := messagesv1.DecodeForwarded(msg.Data)
	if err != nil {
		logger.Error("forwarded ballot decode failed",
			"event", "vote_recorder_decode_failed",
			"module", "election/vote-recorder",
			"layer", "worker",
			"message_id", msg.ID,
			"delivery_attempt", msg.DeliveryAttempt,
			"error", err.Error(),
		)
		return err
	}

	_, err = c.Recorder.Record(ctx, entities.VoteRecord{
		ElectionID: forwarded.ElectionID,
		MachineID:  forwarded.MachineID,
		Choice:     forwarded.Voting,
		BallotUUID: forwarded.UUID,
	})
	return err
}
