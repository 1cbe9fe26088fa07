package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/nholik/watchdog-bridge/internal/config"
	"github.com/nholik/watchdog-bridge/internal/healthsource"
	"github.com/nholik/watchdog-bridge/internal/ingest"
	"github.com/nholik/watchdog-bridge/internal/metrics"
	"github.com/nholik/watchdog-bridge/internal/notify"
	"github.com/nholik/watchdog-bridge/internal/settings"
	"github.com/nholik/watchdog-bridge/internal/syncer"
	"github.com/nholik/watchdog-bridge/internal/syncstate"
	"github.com/rs/zerolog"
)

const providerTimeout = 30 * time.Second

// Services holds every long-lived dependency, built once per process.
type Services struct {
	Config   config.Config
	Store    syncstate.Store
	Settings *settings.FileStore
	Metrics  *metrics.Metrics
	Notifier notify.Notifier
	Engine   *syncer.Engine

	closers []func() error
}

// Close releases resources held by the services.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenStore opens the sync state store described by cfg. Dry runs keep
// state in memory so the database on disk is never written.
func OpenStore(logger zerolog.Logger, cfg config.Config) (syncstate.Store, func() error, error) {
	if cfg.DryRun {
		logger.Warn().Msg("dry run: sync state is kept in memory")
		return syncstate.NewMemoryStore(), func() error { return nil }, nil
	}
	store, err := syncstate.OpenSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// NewServices wires the store, settings, provider, ingest client, metrics,
// notifiers and sync engine from cfg.
func NewServices(logger zerolog.Logger, cfg config.Config) (*Services, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	svc := &Services{Config: cfg, Metrics: metrics.New()}

	store, closeStore, err := OpenStore(logger, cfg)
	if err != nil {
		return nil, err
	}
	svc.Store = store
	svc.closers = append(svc.closers, closeStore)

	svc.Settings = settings.NewFileStore(cfg.SettingsPath, logger.With().Str("component", "settings").Logger())

	reader, err := healthsource.NewHTTPReader(cfg.ProviderURL, providerTimeout, 0)
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("provider reader: %w", err)
	}
	provider := healthsource.NewProvider(
		logger.With().Str("component", "provider").Logger(),
		reader,
		healthsource.WithRequestDelay(cfg.ProviderRequestDelay),
		healthsource.WithQuotaPause(cfg.ProviderQuotaPause),
		healthsource.WithMetrics(svc.Metrics),
	)

	client, err := ingest.NewClient(
		logger.With().Str("component", "ingest").Logger(),
		cfg.IngestURL,
		cfg.APIKey,
		ingest.WithTimeout(cfg.IngestTimeout),
		ingest.WithMetrics(svc.Metrics),
	)
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("ingest client: %w", err)
	}

	svc.Notifier, err = buildNotifier(logger, cfg)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	svc.Engine = syncer.New(
		logger,
		store,
		provider,
		client,
		svc.Settings,
		syncer.WithLocation(loc),
		syncer.WithMetrics(svc.Metrics),
		syncer.WithSourceApp(cfg.SourceApp),
	)

	return svc, nil
}

func buildNotifier(logger zerolog.Logger, cfg config.Config) (notify.Notifier, error) {
	notifyLogger := logger.With().Str("component", "notify").Logger()
	webhook, err := notify.NewWebhookNotifier(notifyLogger, cfg.NotifyWebhookURL, cfg.NotifyWebhookTemplate)
	if err != nil {
		return nil, fmt.Errorf("webhook notifier: %w", err)
	}
	var notifier notify.Notifier = notify.NewMultiNotifier(
		notify.NewSlackNotifier(notifyLogger, cfg.SlackWebhookURL),
		webhook,
	)
	if cfg.DryRun {
		notifier = notify.NewDryRunNotifier(notifyLogger, notifier)
	}
	return notifier, nil
}
