package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envIngestURL             = "WB_INGEST_URL"
	envAPIKey                = "WB_API_KEY"
	envProviderURL           = "WB_PROVIDER_URL"
	envSourceApp             = "WB_SOURCE_APP"
	envDBPath                = "WB_DB_PATH"
	envSettingsPath          = "WB_SETTINGS_PATH"
	envTimezone              = "WB_TIMEZONE"
	envIntradayInterval      = "WB_INTRADAY_INTERVAL"
	envDailyInterval         = "WB_DAILY_INTERVAL"
	envDailyWindowDays       = "WB_DAILY_WINDOW_DAYS"
	envIngestTimeout         = "WB_INGEST_TIMEOUT"
	envProviderRequestDelay  = "WB_PROVIDER_REQUEST_DELAY"
	envProviderQuotaPause    = "WB_PROVIDER_QUOTA_PAUSE"
	envBackfillDelay         = "WB_BACKFILL_DELAY"
	envLogLevel              = "WB_LOG_LEVEL"
	envHealthPort            = "WB_HEALTH_PORT"
	envMetricsPort           = "WB_METRICS_PORT"
	envSlackWebhookURL       = "WB_SLACK_WEBHOOK_URL"
	envNotifyWebhookURL      = "WB_NOTIFY_WEBHOOK_URL"
	envNotifyWebhookTemplate = "WB_NOTIFY_WEBHOOK_TEMPLATE"
	envDryRun                = "WB_DRY_RUN"
	envScheduleFile          = "WB_SCHEDULE_FILE"
)

const (
	defaultSourceApp            = "health_connect"
	defaultDBPath               = "data/sync_state.db"
	defaultSettingsPath         = "data/settings.json"
	defaultIntradayInterval     = 60 * time.Minute
	defaultDailyInterval        = 6 * time.Hour
	defaultDailyWindowDays      = 14
	defaultIngestTimeout        = 15 * time.Second
	defaultProviderRequestDelay = 30 * time.Millisecond
	defaultProviderQuotaPause   = time.Second
	defaultBackfillDelay        = 500 * time.Millisecond
	defaultLogLevel             = "info"
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	IngestURL             string
	APIKey                string
	ProviderURL           string
	SourceApp             string
	DBPath                string
	SettingsPath          string
	Timezone              string
	IntradayInterval      time.Duration
	DailyInterval         time.Duration
	DailyWindowDays       int
	IngestTimeout         time.Duration
	ProviderRequestDelay  time.Duration
	ProviderQuotaPause    time.Duration
	BackfillDelay         time.Duration
	LogLevel              string
	HealthPort            int
	MetricsPort           int
	SlackWebhookURL       string
	NotifyWebhookURL      string
	NotifyWebhookTemplate string
	DryRun                bool
	ScheduleFile          string
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	return load(true)
}

// LoadLocal is Load without the ingest and provider requirements, for
// commands that only touch local state.
func LoadLocal() (Config, error) {
	return load(false)
}

func load(requireRemote bool) (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		SourceApp:            defaultSourceApp,
		DBPath:               defaultDBPath,
		SettingsPath:         defaultSettingsPath,
		IntradayInterval:     defaultIntradayInterval,
		DailyInterval:        defaultDailyInterval,
		DailyWindowDays:      defaultDailyWindowDays,
		IngestTimeout:        defaultIngestTimeout,
		ProviderRequestDelay: defaultProviderRequestDelay,
		ProviderQuotaPause:   defaultProviderQuotaPause,
		BackfillDelay:        defaultBackfillDelay,
		LogLevel:             defaultLogLevel,
	}

	text := map[string]*string{
		envIngestURL:             &cfg.IngestURL,
		envAPIKey:                &cfg.APIKey,
		envProviderURL:           &cfg.ProviderURL,
		envSourceApp:             &cfg.SourceApp,
		envDBPath:                &cfg.DBPath,
		envSettingsPath:          &cfg.SettingsPath,
		envTimezone:              &cfg.Timezone,
		envLogLevel:              &cfg.LogLevel,
		envSlackWebhookURL:       &cfg.SlackWebhookURL,
		envNotifyWebhookURL:      &cfg.NotifyWebhookURL,
		envNotifyWebhookTemplate: &cfg.NotifyWebhookTemplate,
		envScheduleFile:          &cfg.ScheduleFile,
	}
	for key, target := range text {
		if value, ok := lookupTrimmed(key); ok && value != "" {
			*target = value
		}
	}

	positive := map[string]*time.Duration{
		envIntradayInterval: &cfg.IntradayInterval,
		envDailyInterval:    &cfg.DailyInterval,
		envIngestTimeout:    &cfg.IngestTimeout,
	}
	for key, target := range positive {
		if err := parseDuration(key, target, false); err != nil {
			return Config{}, err
		}
	}

	nonNegative := map[string]*time.Duration{
		envProviderRequestDelay: &cfg.ProviderRequestDelay,
		envProviderQuotaPause:   &cfg.ProviderQuotaPause,
		envBackfillDelay:        &cfg.BackfillDelay,
	}
	for key, target := range nonNegative {
		if err := parseDuration(key, target, true); err != nil {
			return Config{}, err
		}
	}

	if value, ok := lookupTrimmed(envDailyWindowDays); ok && value != "" {
		days, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envDailyWindowDays, err)
		}
		if days <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envDailyWindowDays)
		}
		cfg.DailyWindowDays = days
	}

	var err error
	if cfg.HealthPort, err = parsePort(envHealthPort); err != nil {
		return Config{}, err
	}
	if cfg.MetricsPort, err = parsePort(envMetricsPort); err != nil {
		return Config{}, err
	}

	if value, ok := lookupTrimmed(envDryRun); ok && value != "" {
		dryRun, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envDryRun, err)
		}
		cfg.DryRun = dryRun
	}

	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}

	if requireRemote {
		if cfg.IngestURL == "" {
			return Config{}, errors.New("WB_INGEST_URL is required")
		}
		if cfg.APIKey == "" {
			return Config{}, errors.New("WB_API_KEY is required")
		}
		if cfg.ProviderURL == "" {
			return Config{}, errors.New("WB_PROVIDER_URL is required")
		}
	}

	urls := []struct {
		name  string
		value string
	}{
		{envIngestURL, cfg.IngestURL},
		{envProviderURL, cfg.ProviderURL},
		{envSlackWebhookURL, cfg.SlackWebhookURL},
		{envNotifyWebhookURL, cfg.NotifyWebhookURL},
	}
	for _, u := range urls {
		if u.value == "" {
			continue
		}
		if err := validateURL(u.value, u.name); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// Location resolves Timezone, defaulting to the system zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", envTimezone, err)
	}
	return loc, nil
}

func parseDuration(key string, target *time.Duration, allowZero bool) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < 0 || (!allowZero && parsed == 0) {
		if allowZero {
			return fmt.Errorf("%s cannot be negative", key)
		}
		return fmt.Errorf("%s must be greater than zero", key)
	}
	*target = parsed
	return nil
}

func parsePort(key string) (int, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return 0, nil
	}
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("%s must be between 0 and 65535", key)
	}
	return port, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
