package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	dedupgate "ballotbox/contexts/election/dedup-gate"
	dedupbolt "ballotbox/contexts/election/dedup-gate/adapters/bolt"
	dedupmemory "ballotbox/contexts/election/dedup-gate/adapters/memory"
	deduppostgres "ballotbox/contexts/election/dedup-gate/adapters/postgres"
	dedupredis "ballotbox/contexts/election/dedup-gate/adapters/redis"
	dedupports "ballotbox/contexts/election/dedup-gate/ports"
	voterecorder "ballotbox/contexts/election/vote-recorder"
	ledgerpostgres "ballotbox/contexts/election/vote-recorder/adapters/postgres"
	votingmachine "ballotbox/contexts/election/voting-machine"
	"ballotbox/contexts/election/voting-machine/adapters/system"
	"ballotbox/contexts/election/voting-machine/application/workers"
	messagesv1 "ballotbox/contracts/gen/messages/v1"
	"ballotbox/internal/platform/config"
	"ballotbox/internal/platform/db"
	"ballotbox/internal/platform/httpserver"
	"ballotbox/internal/platform/messaging"
	"ballotbox/internal/platform/retry"

	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type Option func(*options)

type options struct {
	broker    messaging.Broker
	logOutput io.Writer
}

// WithBroker shares an existing broker instead of building one from config.
// The caller keeps ownership and closes it.
func WithBroker(broker messaging.Broker) Option {
	return func(o *options) { o.broker = broker }
}

// WithLogOutput redirects process logs, stderr by default.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

type DedupGateApp struct {
	module  dedupgate.Module
	closers []func() error
	logger  *slog.Logger
}

type VoteRecorderApp struct {
	module  voterecorder.Module
	closers []func() error
	logger  *slog.Logger
}

type VotingMachineApp struct {
	module  votingmachine.Module
	closers []func() error
	logger  *slog.Logger
}

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

func BuildDedupGate(ctx context.Context, cfg config.Config, opts ...Option) (*DedupGateApp, error) {
	if err := cfg.Validate(config.RoleDedupGate); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	logger := NewLogger(cfg, config.RoleDedupGate, o.logOutput)

	var closers []func() error
	broker, closeBroker, err := resolveBroker(ctx, cfg, o, logger)
	if err != nil {
		return nil, err
	}
	closers = appendCloser(closers, closeBroker)

	store, closeStore, err := openDedupStore(ctx, cfg, logger)
	if err != nil {
		closeAll(closers, logger)
		return nil, err
	}
	closers = appendCloser(closers, closeStore)

	sub := subscription(cfg, broker, logger, cfg.Topics.SubscriptionID,
		messaging.AttributeEquals(messagesv1.AttrFunction, messagesv1.FunctionSubmit))
	if err := prepareSubscription(ctx, broker, sub, logger); err != nil {
		closeAll(closers, logger)
		return nil, err
	}

	module := dedupgate.NewModule(dedupgate.Dependencies{
		Store:      store,
		Publisher:  broker,
		Subscriber: sub,
		Topic:      cfg.Topics.Election,
		Logger:     logger,
	})
	return &DedupGateApp{module: module, closers: closers, logger: logger}, nil
}

func BuildVoteRecorder(ctx context.Context, cfg config.Config, opts ...Option) (*VoteRecorderApp, error) {
	if err := cfg.Validate(config.RoleVoteRecorder); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	logger := NewLogger(cfg, config.RoleVoteRecorder, o.logOutput)

	var closers []func() error
	broker, closeBroker, err := resolveBroker(ctx, cfg, o, logger)
	if err != nil {
		return nil, err
	}
	closers = appendCloser(closers, closeBroker)

	pg, err := db.Connect(ctx, cfg.Ledger.PostgresDSN, ledgerRetry(cfg), logger)
	if err != nil {
		closeAll(closers, logger)
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	closers = appendCloser(closers, pg.Close)

	repo := ledgerpostgres.NewRepository(pg.DB, logger)
	if cfg.Ledger.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			closeAll(closers, logger)
			return nil, fmt.Errorf("migrate ledger: %w", err)
		}
	}

	sub := subscription(cfg, broker, logger, cfg.Topics.SubscriptionID,
		messaging.AttributeEquals(messagesv1.AttrFunction, messagesv1.FunctionRecord))
	if err := prepareSubscription(ctx, broker, sub, logger); err != nil {
		closeAll(closers, logger)
		return nil, err
	}

	module := voterecorder.NewModule(voterecorder.Dependencies{
		Ledger:        repo,
		Outbox:        repo,
		Publisher:     broker,
		Subscriber:    sub,
		Clock:         systemClock{},
		Topic:         cfg.Topics.Election,
		RelayInterval: cfg.Ledger.RelayInterval,
		RelayBatch:    cfg.Ledger.RelayBatch,
		Logger:        logger,
	})
	return &VoteRecorderApp{module: module, closers: closers, logger: logger}, nil
}

func BuildVotingMachine(ctx context.Context, cfg config.Config, opts ...Option) (*VotingMachineApp, error) {
	if err := cfg.Validate(config.RoleVotingMachine); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	logger := NewLogger(cfg, config.RoleVotingMachine, o.logOutput)

	var closers []func() error
	broker, closeBroker, err := resolveBroker(ctx, cfg, o, logger)
	if err != nil {
		return nil, err
	}
	closers = appendCloser(closers, closeBroker)

	sub := subscription(cfg, broker, logger, ResultSubscriptionID(cfg.Machine.MachineID), ResultFilter(cfg.Machine.MachineID))
	if err := prepareSubscription(ctx, broker, sub, logger); err != nil {
		closeAll(closers, logger)
		return nil, err
	}

	module := votingmachine.NewModule(votingmachine.Dependencies{
		Publisher:  broker,
		Subscriber: sub,
		IDs:        system.UUIDGenerator{},
		Voters:     system.NewRandomVoters(cfg.Machine.VoterRange, cfg.Machine.Choices, uint64(time.Now().UnixNano())),
		Clock:      system.Clock{},
		Topic:      cfg.Topics.Election,
		ElectionID: cfg.Machine.ElectionID,
		MachineID:  cfg.Machine.MachineID,
		ResultWait: cfg.Machine.ResultWait,
		RoundDelay: cfg.Machine.RoundDelay,
		Rounds:     cfg.Machine.Rounds,
		Logger:     logger,
	})
	return &VotingMachineApp{module: module, closers: closers, logger: logger}, nil
}

func BuildAPI(ctx context.Context, cfg config.Config, opts ...Option) (*APIApp, error) {
	if err := cfg.Validate(config.RoleAPI); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	logger := NewLogger(cfg, config.RoleAPI, o.logOutput)

	pg, err := db.Connect(ctx, cfg.Ledger.PostgresDSN, ledgerRetry(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	repo := ledgerpostgres.NewRepository(pg.DB, logger)
	module := voterecorder.NewModule(voterecorder.Dependencies{
		Ledger: repo,
		Outbox: repo,
		Clock:  systemClock{},
		Logger: logger,
	})

	server := httpserver.New(module, logger, normalizeAddr(cfg.HTTP.Port))
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func (a *DedupGateApp) Run(ctx context.Context) error {
	a.logger.Info("dedup gate started",
		"event", "bootstrap_dedup_gate_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	return a.module.Consumer.Start(ctx)
}

func (a *DedupGateApp) Close() error {
	return closeAll(a.closers, a.logger)
}

// Run consumes forwarded ballots and relays pending results until ctx ends.
func (a *VoteRecorderApp) Run(ctx context.Context) error {
	a.logger.Info("vote recorder started",
		"event", "bootstrap_vote_recorder_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.module.Consumer.Start(gctx) })
	g.Go(func() error { return a.module.Relay.Start(gctx) })
	return g.Wait()
}

func (a *VoteRecorderApp) Close() error {
	return closeAll(a.closers, a.logger)
}

// Run listens for results while the voting loop casts ballots. The listener
// stops once the loop has finished its rounds.
func (a *VotingMachineApp) Run(ctx context.Context) (workers.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.logger.Info("voting machine started",
		"event", "bootstrap_voting_machine_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	var summary workers.Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.module.Listener.Start(gctx) })
	g.Go(func() error {
		defer cancel()
		var err error
		summary, err = a.module.Loop.Run(gctx)
		return err
	})
	err := g.Wait()
	a.logger.Info("voting machine finished",
		"event", "bootstrap_voting_machine_finished",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"recorded", summary.Recorded,
		"already_voted", summary.AlreadyVoted,
		"timed_out", summary.TimedOut,
		"failed", summary.Failed,
	)
	return summary, err
}

func (a *VotingMachineApp) Close() error {
	return closeAll(a.closers, a.logger)
}

func (a *APIApp) Run(ctx context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start(ctx)
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

// NewLogger builds the process logger: JSON or text per config, debug level
// when debug is on.
func NewLogger(cfg config.Config, role config.Role, out io.Writer) *slog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	return slog.New(handler).With("service", cfg.ServiceName, "process", string(role))
}

// ResultSubscriptionID names the per-machine result subscription.
func ResultSubscriptionID(machineID int64) string {
	return "election-result-" + strconv.FormatInt(machineID, 10) + "-sub"
}

// ResultFilter admits only results addressed to machineID.
func ResultFilter(machineID int64) messaging.Filter {
	return messaging.AttributeEquals(messagesv1.AttrFunction, messagesv1.FunctionResult).
		And(messaging.AttributeEquals(messagesv1.AttrMachineID, strconv.FormatInt(machineID, 10)))
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func resolveBroker(ctx context.Context, cfg config.Config, o options, logger *slog.Logger) (messaging.Broker, func() error, error) {
	if o.broker != nil {
		return o.broker, nil, nil
	}
	switch cfg.Broker.Backend {
	case config.BrokerMemory:
		broker := messaging.NewMemory(logger)
		return broker, broker.Close, nil
	case config.BrokerPubSub:
		broker, err := messaging.NewPubSub(ctx, cfg.Broker.ProjectID, logger)
		if err != nil {
			return nil, nil, err
		}
		return broker, broker.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported broker backend %q", cfg.Broker.Backend)
	}
}

func openDedupStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (dedupports.DedupStore, func() error, error) {
	policy := retry.Policy{Attempts: cfg.Dedup.RetryAttempts, Delay: cfg.Dedup.RetryDelay}
	switch cfg.Dedup.Backend {
	case config.DedupRedis:
		store, err := dedupredis.Dial(ctx, dedupredis.Options{
			Addr:     cfg.Dedup.RedisAddr,
			Password: cfg.Dedup.RedisPassword,
			DB:       cfg.Dedup.RedisDB,
		}, policy, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect dedup store: %w", err)
		}
		return store, store.Close, nil
	case config.DedupPostgres:
		pg, err := db.Connect(ctx, cfg.Dedup.PostgresDSN, policy, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect dedup store: %w", err)
		}
		repo := deduppostgres.NewRepository(pg.DB, logger)
		if cfg.Dedup.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, nil, fmt.Errorf("migrate dedup store: %w", err)
			}
		}
		return repo, pg.Close, nil
	case config.DedupBolt:
		store, err := dedupbolt.Open(cfg.Dedup.BoltPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.DedupMemory:
		return dedupmemory.NewStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dedup backend %q", cfg.Dedup.Backend)
	}
}

func subscription(cfg config.Config, broker messaging.Broker, logger *slog.Logger, id string, filter messaging.Filter) messaging.Subscription {
	return messaging.Subscription{
		Broker: broker,
		Config: messaging.SubscriptionConfig{
			ID:                  id,
			Topic:               cfg.Topics.Election,
			Filter:              filter,
			AckDeadline:         cfg.Broker.AckDeadline,
			DeadLetterTopic:     cfg.Broker.DeadLetterTopic,
			MaxDeliveryAttempts: cfg.Broker.MaxDeliveryAttempts,
			MaxOutstanding:      cfg.Broker.MaxOutstanding,
		},
		Logger: logger,
		Debug:  cfg.Debug,
	}
}

// prepareSubscription creates the topics and the subscription before any
// traffic flows, so nothing published during startup is missed.
func prepareSubscription(ctx context.Context, broker messaging.Broker, sub messaging.Subscription, logger *slog.Logger) error {
	if err := broker.EnsureTopic(ctx, sub.Config.Topic); err != nil {
		return err
	}
	if sub.Config.DeadLetterTopic != "" {
		if err := broker.EnsureTopic(ctx, sub.Config.DeadLetterTopic); err != nil {
			return err
		}
	}
	return messaging.EnsureSubscription(ctx, broker, sub.Config, logger)
}

func ledgerRetry(cfg config.Config) retry.Policy {
	return retry.Policy{Attempts: cfg.Ledger.RetryAttempts, Delay: cfg.Ledger.RetryDelay}
}

func appendCloser(closers []func() error, closer func() error) []func() error {
	if closer == nil {
		return closers
	}
	return append(closers, closer)
}

// closeAll releases resources in reverse acquisition order.
func closeAll(closers []func() error, logger *slog.Logger) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil && logger != nil {
		logger.Warn("shutdown close failed",
			"event", "bootstrap_close_failed",
			"module", "internal/app/bootstrap",
			"layer", "platform",
			"error", err.Error(),
		)
	}
	return err
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
