package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watchdog-bridge %s\n", fallback(Version, "dev"))
			fmt.Fprintf(out, "commit:     %s\n", fallback(GitCommit, "unknown"))
			fmt.Fprintf(out, "go version: %s\n", runtime.Version())
		},
	}
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
