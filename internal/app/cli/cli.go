package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"ballotbox/internal/platform/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunFunc runs one process until ctx is cancelled by SIGINT/SIGTERM.
type RunFunc func(ctx context.Context, v *viper.Viper, cfg config.Config) error

// NewCommand returns a root command whose flags are bound into v, so flags,
// environment and defaults resolve through one config source.
func NewCommand(use string, short string, v *viper.Viper, run RunFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(ctx, v, cfg)
		},
	}
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging and message dumps")
	_ = v.BindPFlag(config.KeyDebug, cmd.PersistentFlags().Lookup("debug"))
	return cmd
}

// Execute runs cmd and exits non-zero on failure.
func Execute(cmd *cobra.Command) {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd.Name(), err)
		os.Exit(1)
	}
}

// PromptInt asks for an integer on in until one parses.
func PromptInt(in io.Reader, out io.Writer, label string) (int64, error) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s: ", label)
		line, err := reader.ReadString('\n')
		value, parseErr := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if parseErr == nil && value >= 0 {
			return value, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", strings.ToLower(label), err)
		}
		fmt.Fprintf(out, "%s must be a non-negative integer\n", label)
	}
}
