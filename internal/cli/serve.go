package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nholik/watchdog-bridge/internal/config"
	"github.com/nholik/watchdog-bridge/internal/coordinator"
	"github.com/nholik/watchdog-bridge/internal/healthcheck"
	"github.com/nholik/watchdog-bridge/internal/server"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the intraday and daily workers on their schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap(true)
			if err != nil {
				return err
			}

			schedules, err := config.LoadScheduleFile(cfg.ScheduleFile)
			if err != nil {
				return err
			}
			plan := cfg.Plan(schedules)

			svc, err := coordinator.NewServices(logger, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(); err != nil {
					logger.Error().Err(err).Msg("close services")
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tracker := healthcheck.NewTracker()
			if last, err := svc.Settings.LastIntradayRun(ctx); err != nil {
				logger.Warn().Err(err).Msg("could not read last intraday run")
			} else {
				tracker.SeedLastIntradayRun(last)
				if !last.IsZero() {
					svc.Metrics.SetLastIntradayRun(last)
				}
			}

			coord := coordinator.New(
				logger,
				svc.Engine,
				plan,
				coordinator.WithTracker(tracker),
				coordinator.WithNotifier(svc.Notifier),
				coordinator.WithMetrics(svc.Metrics),
				coordinator.WithBackfillDelay(cfg.BackfillDelay),
			)

			var liveness time.Duration
			if plan.Intraday.Enabled {
				liveness = plan.Intraday.Interval
			}
			server.Start(ctx, logger, server.Options{
				HealthPort:       cfg.HealthPort,
				MetricsPort:      cfg.MetricsPort,
				IntradayInterval: liveness,
				Tracker:          tracker,
				Metrics:          svc.Metrics,
				Admin:            coord,
				APIKey:           cfg.APIKey,
			})

			logger.Info().
				Bool("dry_run", cfg.DryRun).
				Bool("intraday", plan.Intraday.Enabled).
				Bool("daily", plan.Daily.Enabled).
				Msg("watchdog-bridge starting")

			return coord.Run(ctx)
		},
	}
}
