package main

import (
	"context"

	"ballotbox/internal/app/bootstrap"
	"ballotbox/internal/app/cli"
	"ballotbox/internal/platform/config"

	"github.com/spf13/viper"
)

// Dedup gate process entrypoint.
// Data flow:
// 1) Load config and connect the dedup store (with retry).
// 2) Ensure the function=submit subscription.
// 3) Admit or reject ballots until interrupted.
func main() {
	v := config.NewViper()
	cli.Execute(cli.NewCommand("dedup-gate", "Admit at most one ballot per voter and election", v,
		func(ctx context.Context, _ *viper.Viper, cfg config.Config) error {
			app, err := bootstrap.BuildDedupGate(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(ctx)
		}))
}
