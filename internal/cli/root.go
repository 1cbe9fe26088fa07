package cli

import (
	"github.com/nholik/watchdog-bridge/internal/config"
	"github.com/nholik/watchdog-bridge/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	Version   string
	GitCommit string
)

// NewRootCommand builds the watchdog-bridge command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "watchdog-bridge",
		Short:         "Sync health metrics from a local provider to a remote ingest service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newServeCommand(),
		newDailyCommand(),
		newIntradayCommand(),
		newBackfillCommand(),
		newDebugSendCommand(),
		newWipeCommand(),
		newStatusCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// bootstrap loads configuration and builds the process logger. Commands that
// only touch local state skip the remote requirements.
func bootstrap(requireRemote bool) (config.Config, zerolog.Logger, error) {
	load := config.LoadLocal
	if requireRemote {
		load = config.Load
	}
	cfg, err := load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logging.NewWithLevel(cfg.LogLevel), nil
}
