package votingmachine

import (
	"log/slog"
	"time"

	"ballotbox/contexts/election/voting-machine/adapters/system"
	"ballotbox/contexts/election/voting-machine/application/commands"
	"ballotbox/contexts/election/voting-machine/application/workers"
	"ballotbox/contexts/election/voting-machine/ports"
)

type Module struct {
	Client   *commands.Client
	Listener workers.ResultListener
	Loop     workers.VotingLoop
}

type Dependencies struct {
	Publisher  ports.MessagePublisher
	Subscriber ports.ResultSubscriber
	IDs        ports.IDGenerator
	Voters     ports.VoterSource
	Clock      ports.Clock
	Topic      string
	ElectionID int64
	MachineID  int64
	ResultWait time.Duration
	RoundDelay time.Duration
	Rounds     int
	Logger     *slog.Logger
}

func NewModule(deps Dependencies) Module {
	if deps.IDs == nil {
		deps.IDs = system.UUIDGenerator{}
	}
	if deps.Clock == nil {
		deps.Clock = system.Clock{}
	}
	if deps.Voters == nil {
		deps.Voters = system.NewRandomVoters(100, 5, uint64(time.Now().UnixNano()))
	}
	client := &commands.Client{
		Publisher:  deps.Publisher,
		IDs:        deps.IDs,
		Clock:      deps.Clock,
		Topic:      deps.Topic,
		ElectionID: deps.ElectionID,
		MachineID:  deps.MachineID,
		ResultWait: deps.ResultWait,
		Logger:     deps.Logger,
	}
	return Module{
		Client: client,
		Listener: workers.ResultListener{
			Subscriber: deps.Subscriber,
			Client:     client,
			Logger:     deps.Logger,
		},
		Loop: workers.VotingLoop{
			Client:     client,
			Voters:     deps.Voters,
			RoundDelay: deps.RoundDelay,
			Rounds:     deps.Rounds,
			Logger:     deps.Logger,
		},
	}
}
