package workers

import (
	"context"
	"log/slog"

	application "ballotbox/contexts/election/voting-machine/application"
	"ballotbox/contexts/election/voting-machine/application/commands"
	"ballotbox/contexts/election/voting-machine/ports"
)

// ResultListener runs the machine's result subscription and hands every
// delivery to the client.
type ResultListener struct {
	Subscriber ports.ResultSubscriber
	Client     *commands.Client
	Logger     *slog.Logger
}

func (l ResultListener) Start(ctx context.Context) error {
	logger := application.ResolveLogger(l.Logger)
	logger.Info("result listener starting",
		"event", "voting_machine_listener_starting",
		"module", "election/voting-machine",
		"layer", "worker",
		"machine_id", l.Client.MachineID,
	)
	if err := l.Subscriber.Subscribe(ctx, l.Client.HandleResult); err != nil {
		logger.Error("result listener stopped",
			"event", "voting_machine_listener_failed",
			"module", "election/voting-machine",
			"layer", "worker",
			"machine_id", l.Client.MachineID,
			"error", err.Error(),
		)
		return err
	}
	return nil
}
