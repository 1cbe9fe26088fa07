package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nholik/watchdog-bridge/internal/healthcheck"
	"github.com/nholik/watchdog-bridge/internal/metrics"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Options selects which HTTP servers Start launches and what they serve.
type Options struct {
	HealthPort       int
	MetricsPort      int
	IntradayInterval time.Duration
	Tracker          *healthcheck.Tracker
	Metrics          *metrics.Metrics
	Admin            Admin
	APIKey           string
}

// Start launches health and metrics HTTP servers as configured. Admin
// routes share the health port.
func Start(ctx context.Context, logger zerolog.Logger, opts Options) {
	if opts.HealthPort == 0 && opts.MetricsPort == 0 {
		return
	}

	if opts.HealthPort > 0 && opts.MetricsPort > 0 && opts.HealthPort == opts.MetricsPort {
		mux := healthMux(logger, opts)
		registerMetricsRoute(mux, opts.Metrics)
		startServer(ctx, logger, mux, opts.HealthPort, "health/metrics")
		return
	}

	if opts.HealthPort > 0 {
		startServer(ctx, logger, healthMux(logger, opts), opts.HealthPort, "health")
	}

	if opts.MetricsPort > 0 {
		mux := http.NewServeMux()
		registerMetricsRoute(mux, opts.Metrics)
		startServer(ctx, logger, mux, opts.MetricsPort, "metrics")
	}
}

func healthMux(logger zerolog.Logger, opts Options) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthcheck.HealthHandler(opts.Tracker, opts.IntradayInterval))
	mux.HandleFunc("/readyz", healthcheck.ReadyHandler(opts.Tracker))
	if opts.Admin != nil && opts.APIKey != "" {
		registerAdminRoutes(mux, logger, opts.Admin, opts.APIKey)
	}
	return mux
}

func registerMetricsRoute(mux *http.ServeMux, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	mux.Handle("/metrics", metricsCollector.Handler())
}

func startServer(ctx context.Context, logger zerolog.Logger, handler http.Handler, port int, label string) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("server", label).Int("port", port).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server shutdown failed")
		}
	}()
}
