package main

import (
	"context"
	"os"

	"ballotbox/internal/app/bootstrap"
	"ballotbox/internal/app/cli"
	"ballotbox/internal/platform/config"

	"github.com/spf13/viper"
)

// Voting machine process entrypoint.
// Data flow:
// 1) Resolve election and machine ids from flags, env or the terminal.
// 2) Ensure this machine's result subscription.
// 3) Cast ballots round by round until the round limit or an interrupt.
func main() {
	v := config.NewViper()
	cmd := cli.NewCommand("voting-machine", "Cast ballots and wait for their results", v,
		func(ctx context.Context, v *viper.Viper, cfg config.Config) error {
			if !config.ElectionSet(v) {
				id, err := cli.PromptInt(os.Stdin, os.Stdout, "Election ID")
				if err != nil {
					return err
				}
				cfg.Machine.ElectionID = id
			}
			if !config.MachineSet(v) {
				id, err := cli.PromptInt(os.Stdin, os.Stdout, "Machine ID")
				if err != nil {
					return err
				}
				cfg.Machine.MachineID = id
			}

			app, err := bootstrap.BuildVotingMachine(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			_, err = app.Run(ctx)
			return err
		})

	flags := cmd.Flags()
	flags.Int64("election-id", 0, "election to vote in (prompted when unset)")
	flags.Int64("machine-id", 0, "this machine's id (prompted when unset)")
	flags.Int("rounds", 0, "ballots to cast; 0 runs until interrupted")
	flags.Duration("result-wait", 0, "how long to wait for each result")
	flags.Duration("round-delay", 0, "pause between ballots")
	_ = v.BindPFlag(config.KeyElectionID, flags.Lookup("election-id"))
	_ = v.BindPFlag(config.KeyMachineID, flags.Lookup("machine-id"))
	_ = v.BindPFlag(config.KeyRounds, flags.Lookup("rounds"))
	_ = v.BindPFlag(config.KeyResultWait, flags.Lookup("result-wait"))
	_ = v.BindPFlag(config.KeyRoundDelay, flags.Lookup("round-delay"))

	cli.Execute(cmd)
}
