package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/nholik/watchdog-bridge/internal/coordinator"
	"github.com/nholik/watchdog-bridge/internal/syncstate"
	"github.com/spf13/cobra"
)

func newWipeCommand() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete every stored sync state row so all dates upload again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return errors.New("refusing to wipe sync state without --yes")
			}
			cfg, logger, err := bootstrap(false)
			if err != nil {
				return err
			}
			store, closeStore, err := coordinator.OpenStore(logger, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			if err := store.ClearAll(cmd.Context()); err != nil {
				return fmt.Errorf("wipe sync state: %w", err)
			}
			logger.Warn().Str("db_path", cfg.DBPath).Msg("sync state wiped")
			fmt.Fprintln(cmd.OutOrStdout(), "sync state wiped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the wipe")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the stored sync state of every date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap(false)
			if err != nil {
				return err
			}
			store, closeStore, err := coordinator.OpenStore(logger, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			states, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sync state: %w", err)
			}
			return printStates(cmd.OutOrStdout(), states)
		},
	}
}

var statusColors = map[syncstate.Status]*color.Color{
	syncstate.StatusSynced:   color.New(color.FgGreen),
	syncstate.StatusFailed:   color.New(color.FgRed, color.Bold),
	syncstate.StatusUnsynced: color.New(color.FgYellow),
}

func printStates(w io.Writer, states []syncstate.SyncState) error {
	if len(states) == 0 {
		_, err := fmt.Fprintln(w, "no sync state recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSTATUS\tATTEMPTS\tLAST SYNCED\tHASH\tLAST ERROR")
	keptHash := false
	for _, state := range states {
		status := state.Status()
		label := string(status)
		if c, ok := statusColors[status]; ok {
			label = c.Sprint(label)
		}
		hash := shortHash(state.DataHash)
		if status == syncstate.StatusFailed && state.DataHash != "" {
			hash += "*"
			keptHash = true
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			state.Date,
			label,
			state.AttemptCount,
			formatTime(state.LastSyncedAt),
			hash,
			state.LastError,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if keptHash {
		_, err := fmt.Fprintln(w, keptHashNote)
		return err
	}
	return nil
}

// keptHashNote explains failed rows that still hold an accepted hash. Runs
// that capture the same content skip them, so they stay failed until the
// date's data changes.
const keptHashNote = "* hash of the last accepted upload; the row stays FAILED until the date's data changes"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	if hash == "" {
		return "-"
	}
	return hash
}
