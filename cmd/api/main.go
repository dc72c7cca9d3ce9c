package main

import (
	"context"

	"ballotbox/internal/app/bootstrap"
	"ballotbox/internal/app/cli"
	"ballotbox/internal/platform/config"

	"github.com/spf13/viper"
)

// API process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring (ports + adapters + use cases).
// 3) Serve the tally API until interrupted.
func main() {
	v := config.NewViper()
	cmd := cli.NewCommand("api", "Serve election tallies over HTTP", v,
		func(ctx context.Context, _ *viper.Viper, cfg config.Config) error {
			app, err := bootstrap.BuildAPI(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(ctx)
		})
	cmd.Flags().String("http-port", "", "listen port")
	_ = v.BindPFlag(config.KeyHTTPPort, cmd.Flags().Lookup("http-port"))
	cli.Execute(cmd)
}
