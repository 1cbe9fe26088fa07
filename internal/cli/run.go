package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nholik/watchdog-bridge/internal/calendar"
	"github.com/nholik/watchdog-bridge/internal/config"
	"github.com/nholik/watchdog-bridge/internal/coordinator"
	"github.com/nholik/watchdog-bridge/internal/syncer"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// session is what a single worker invocation needs.
type session struct {
	plan  config.Plan
	svc   *coordinator.Services
	coord *coordinator.Coordinator
}

// oneShot builds the services for a single worker invocation and hands the
// caller a coordinator wired with the configured notifiers.
func oneShot(cmd *cobra.Command, fn func(ctx context.Context, s session) error) error {
	cfg, logger, err := bootstrap(true)
	if err != nil {
		return err
	}

	svc, err := coordinator.NewServices(logger, cfg)
	if err != nil {
		return err
	}
	defer closeServices(logger, svc)

	schedules, err := config.LoadScheduleFile(cfg.ScheduleFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plan := cfg.Plan(schedules)
	coord := coordinator.New(
		logger,
		svc.Engine,
		plan,
		coordinator.WithNotifier(svc.Notifier),
		coordinator.WithMetrics(svc.Metrics),
		coordinator.WithBackfillDelay(cfg.BackfillDelay),
	)
	return fn(ctx, session{plan: plan, svc: svc, coord: coord})
}

func closeServices(logger zerolog.Logger, svc *coordinator.Services) {
	if err := svc.Close(); err != nil {
		logger.Error().Err(err).Msg("close services")
	}
}

func newDailyCommand() *cobra.Command {
	var windowDays int
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Sync the trailing window of completed days once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return oneShot(cmd, func(ctx context.Context, s session) error {
				days := s.plan.Daily.WindowDays
				if windowDays > 0 {
					days = windowDays
				}
				report := syncer.NewDailyWorker(s.svc.Engine, days).Run(ctx)
				s.coord.HandleReport(ctx, report)
				return printReport(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().IntVar(&windowDays, "days", 0, "number of days to sync back from yesterday (default from config)")
	return cmd
}

func newIntradayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "intraday",
		Short: "Sync today's data so far once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return oneShot(cmd, func(ctx context.Context, s session) error {
				report := syncer.NewIntradayWorker(s.svc.Engine).Run(ctx)
				s.coord.HandleReport(ctx, report)
				return printReport(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newBackfillCommand() *cobra.Command {
	var startFlag, endFlag string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Sync an explicit inclusive date range",
		Example: `  watchdog-bridge backfill --start 2025-01-01 --end 2025-01-31
  watchdog-bridge backfill --start 2025-03-14`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := parseRange(startFlag, endFlag)
			if err != nil {
				return err
			}
			return oneShot(cmd, func(ctx context.Context, s session) error {
				report, err := s.coord.RunBackfill(ctx, start, end)
				if err != nil {
					return err
				}
				return printReport(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&startFlag, "start", "", "first date to sync (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endFlag, "end", "", "last date to sync (YYYY-MM-DD, default start)")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func parseRange(startFlag, endFlag string) (calendar.Date, calendar.Date, error) {
	start, err := calendar.Parse(startFlag)
	if err != nil {
		return calendar.Date{}, calendar.Date{}, fmt.Errorf("--start: %w", err)
	}
	end := start
	if endFlag != "" {
		end, err = calendar.Parse(endFlag)
		if err != nil {
			return calendar.Date{}, calendar.Date{}, fmt.Errorf("--end: %w", err)
		}
	}
	if end.Before(start) {
		return calendar.Date{}, calendar.Date{}, fmt.Errorf("--start %s is after --end %s", start, end)
	}
	return start, end, nil
}

func newDebugSendCommand() *cobra.Command {
	var dateFlag string
	cmd := &cobra.Command{
		Use:   "debug-send",
		Short: "Capture one day and post it to the debug endpoint without touching sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var date calendar.Date
			if dateFlag != "" {
				parsed, err := calendar.Parse(dateFlag)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				date = parsed
			}
			return oneShot(cmd, func(ctx context.Context, s session) error {
				result, err := s.svc.Engine.DebugSend(ctx, date)
				if err != nil {
					return err
				}
				out := map[string]any{
					"date":        result.Date.String(),
					"hash":        result.Hash,
					"status_code": result.Response.StatusCode,
					"success":     result.Response.Success,
				}
				if result.Response.ErrorBody != "" {
					out["error_body"] = result.Response.ErrorBody
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(out); err != nil {
					return err
				}
				if !result.Response.Success {
					return fmt.Errorf("debug send rejected: HTTP %d", result.Response.StatusCode)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dateFlag, "date", "", "date to send (YYYY-MM-DD, default yesterday)")
	return cmd
}

func printReport(w io.Writer, report syncer.RunReport) error {
	fmt.Fprintf(w, "%s run: %s in %s\n", report.Worker, report.Outcome, report.Duration().Round(time.Millisecond))
	for _, result := range report.Dates {
		line := fmt.Sprintf("  %s  %-13s", result.Date, result.Action)
		if result.StatusCode != 0 {
			line += fmt.Sprintf("  HTTP %d", result.StatusCode)
		}
		if result.Reason != "" {
			line += "  " + result.Reason
		}
		fmt.Fprintln(w, line)
	}
	if report.Outcome != syncer.OutcomeSuccess {
		if report.Err != nil {
			return fmt.Errorf("%s run %s: %w", report.Worker, report.Outcome, report.Err)
		}
		return fmt.Errorf("%s run %s", report.Worker, report.Outcome)
	}
	return nil
}
