package dedupgate

import (
	"log/slog"

	"ballotbox/contexts/election/dedup-gate/adapters/memory"
	"ballotbox/contexts/election/dedup-gate/application/commands"
	"ballotbox/contexts/election/dedup-gate/application/workers"
	"ballotbox/contexts/election/dedup-gate/ports"
)

type Module struct {
	Gate     commands.AdmitUseCase
	Consumer workers.SubmissionConsumer
	Store    *memory.Store
}

type Dependencies struct {
	Store      ports.DedupStore
	Publisher  ports.MessagePublisher
	Subscriber ports.SubmissionSubscriber
	Topic      string
	Logger     *slog.Logger
}

func NewModule(deps Dependencies) Module {
	gate := commands.AdmitUseCase{
		Store:     deps.Store,
		Publisher: deps.Publisher,
		Topic:     deps.Topic,
		Logger:    deps.Logger,
	}
	return Module{
		Gate: gate,
		Consumer: workers.SubmissionConsumer{
			Subscriber: deps.Subscriber,
			Gate:       gate,
			Logger:     deps.Logger,
		},
	}
}

func NewInMemoryModule(publisher ports.MessagePublisher, subscriber ports.SubmissionSubscriber, topic string, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Store:      store,
		Publisher:  publisher,
		Subscriber: subscriber,
		Topic:      topic,
		Logger:     logger,
	})
	module.Store = store
	return module
}
