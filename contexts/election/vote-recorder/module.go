package voterecorder

import (
	"log/slog"
	"time"

	httpadapter "ballotbox/contexts/election/vote-recorder/adapters/http"
	"ballotbox/contexts/election/vote-recorder/adapters/memory"
	"ballotbox/contexts/election/vote-recorder/application/commands"
	"ballotbox/contexts/election/vote-recorder/application/queries"
	"ballotbox/contexts/election/vote-recorder/application/workers"
	"ballotbox/contexts/election/vote-recorder/domain/entities"
	"ballotbox/contexts/election/vote-recorder/ports"
)

type Module struct {
	Handler  httpadapter.Handler
	Recorder commands.RecordUseCase
	Consumer workers.RecordConsumer
	Relay    workers.ResultRelay
	Store    *memory.Store
}

type Dependencies struct {
	Ledger        ports.Ledger
	Outbox        ports.ResultOutbox
	Publisher     ports.MessagePublisher
	Subscriber    ports.RecordSubscriber
	Clock         ports.Clock
	Topic         string
	RelayInterval time.Duration
	RelayBatch    int
	Logger        *slog.Logger
}

func NewModule(deps Dependencies) Module {
	recorder := commands.RecordUseCase{
		Ledger:    deps.Ledger,
		Outbox:    deps.Outbox,
		Publisher: deps.Publisher,
		Topic:     deps.Topic,
		Clock:     deps.Clock,
		Logger:    deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Tallies: queries.TallyUseCase{Votes: deps.Ledger},
			Logger:  deps.Logger,
		},
		Recorder: recorder,
		Consumer: workers.RecordConsumer{
			Subscriber: deps.Subscriber,
			Recorder:   recorder,
			Logger:     deps.Logger,
		},
		Relay: workers.ResultRelay{
			Outbox:    deps.Outbox,
			Publisher: deps.Publisher,
			Topic:     deps.Topic,
			Clock:     deps.Clock,
			BatchSize: deps.RelayBatch,
			Interval:  deps.RelayInterval,
			Logger:    deps.Logger,
		},
	}
}

func NewInMemoryModule(seed []entities.VoteRecord, publisher ports.MessagePublisher, subscriber ports.RecordSubscriber, topic string, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Ledger:     store,
		Outbox:     store,
		Publisher:  publisher,
		Subscriber: subscriber,
		Topic:      topic,
		Logger:     logger,
	})
	module.Store = store
	return module
}
