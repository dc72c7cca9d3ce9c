package workers

import (
	"context"
	"log/slog"

	application "ballotbox/contexts/election/dedup-gate/application"
	"ballotbox/contexts/election/dedup-gate/application/commands"
	"ballotbox/contexts/election/dedup-gate/domain/entities"
	"ballotbox/contexts/election/dedup-gate/ports"
	messagesv1 "ballotbox/contracts/gen/messages/v1"
)

// SubmissionConsumer feeds every function=submit message through the gate.
type SubmissionConsumer struct {
	Subscriber ports.SubmissionSubscriber
	Gate       commands.AdmitUseCase
	Logger     *slog.Logger
}

// Start blocks receiving submissions until ctx is cancelled.
func (c SubmissionConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	logger.Info("submission consumer starting",
		"event", "dedup_gate_consumer_starting",
		"module", "election/dedup-gate",
		"layer", "worker",
	)
	if err := c.Subscriber.Subscribe(ctx, c.Handle); err != nil {
		logger.Error("submission consumer stopped",
			"event", "dedup_gate_consumer_failed",
			"module", "election/dedup-gate",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	logger.Info("submission consumer stopped",
		"event", "dedup_gate_consumer_stopped",
		"module", "election/dedup-gate",
		"layer", "worker",
	)
	return nil
}

// Handle processes one delivery. Returning an error nacks the submission.
func (c SubmissionConsumer) Handle(ctx context.Context, msg messagesv1.Message) error {
	logger := application.ResolveLogger(c.Logger)
	if fn := msg.Attribute(messagesv1.AttrFunction); fn != messagesv1.FunctionSubmit {
		logger.Warn("unexpected message on submission subscription",
			"event", "dedup_gate_unexpected_function",
			"module", "election/dedup-gate",
			"layer", "worker",
			"message_id", msg.ID,
			"function", fn,
		)
		return nil
	}

	submission, err := messagesv1.DecodeSubmission(msg.Data)
	if err != nil {
		logger.Error("submission payload decode failed",
			"event", "dedup_gate_decode_failed",
			"module", "election/dedup-gate",
			"layer", "worker",
			"message_id", msg.ID,
			"delivery_attempt", msg.DeliveryAttempt,
			"error", err.Error(),
		)
		return err
	}

	_, err = c.Gate.Admit(ctx, entities.Ballot{
		MachineID:     submission.MachineID,
		VoterID:       submission.VoterID,
		Choice:        submission.Voting,
		ElectionID:    submission.ElectionID,
		CorrelationID: submission.UUID,
		Timestamp:     submission.Timestamp,
	})
	return err
}
