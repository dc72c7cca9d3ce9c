package main

import (
	"context"

	"ballotbox/internal/app/bootstrap"
	"ballotbox/internal/app/cli"
	"ballotbox/internal/platform/config"

	"github.com/spf13/viper"
)

// Vote recorder process entrypoint.
// Data flow:
// 1) Load config and connect the ledger (with retry).
// 2) Ensure the function=record subscription.
// 3) Record ballots and relay pending results until interrupted.
func main() {
	v := config.NewViper()
	cli.Execute(cli.NewCommand("vote-recorder", "Commit forwarded ballots to the ledger", v,
		func(ctx context.Context, _ *viper.Viper, cfg config.Config) error {
			app, err := bootstrap.BuildVoteRecorder(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(ctx)
		}))
}
