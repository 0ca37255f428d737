package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/stagehand/internal/shell/status"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	timeout    time.Duration
	debug      bool
}

// newRootCmd builds the command tree. Output goes to stdout, logs and phase
// progress to stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Bring docker compose environments up, check them and tear them down",
		Long: `stagehand drives a docker compose project through its lifecycle:
initialize, inspect, pull, up and health check on the way in, stop, down
and tear down on the way out. Environments are recorded in a local
registry so they can be found again by name.`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate(`{{printf "stagehand %s\n" .Version}}`)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "overall timeout for lifecycle commands (0 disables)")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newUpCmd(opts),
		newDownCmd(opts),
		newCheckCmd(opts),
		newLogsCmd(opts),
		newLsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadApp reads configuration and wires the logger and status sink.
func (o *rootOptions) loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := LoadConfig(o.configPath)
	if err != nil {
		return nil, &ExitError{Code: ExitConfigError, Err: err}
	}
	if o.debug {
		cfg.Log.Level = "debug"
	}

	logger := SetupLogger(cfg, cmd.ErrOrStderr())
	sink := status.NewConsoleLogger(cmd.ErrOrStderr(), o.debug)
	return newApp(cfg, logger, sink, cmd.OutOrStdout()), nil
}

// lifecycleContext bounds a lifecycle command by --timeout.
func (o *rootOptions) lifecycleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of stagehand",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stagehand %s (built %s)\n", Version, BuildTime)
		},
	}
}
