package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const (
	testIngestURL   = "https://ingest.example.com"
	testProviderURL = "http://127.0.0.1:8765"
)

func requiredEnv() map[string]string {
	return map[string]string{
		envIngestURL:   testIngestURL,
		envAPIKey:      "secret",
		envProviderURL: testProviderURL,
	}
}

func withEnv(extra map[string]string) map[string]string {
	env := requiredEnv()
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func defaultConfig() Config {
	return Config{
		IngestURL:            testIngestURL,
		APIKey:               "secret",
		ProviderURL:          testProviderURL,
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
}

func TestLoad_ValidationAndDefaults(t *testing.T) {
	custom := defaultConfig()
	custom.IntradayInterval = 15 * time.Minute
	custom.DailyWindowDays = 30
	custom.HealthPort = 8080
	custom.MetricsPort = 9090
	custom.DryRun = true
	custom.Timezone = "Europe/Berlin"
	custom.ProviderRequestDelay = 0

	cases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		want    Config
	}{
		{
			name:    "missing ingest url",
			env:     map[string]string{envAPIKey: "secret", envProviderURL: testProviderURL},
			wantErr: true,
		},
		{
			name:    "missing api key",
			env:     map[string]string{envIngestURL: testIngestURL, envProviderURL: testProviderURL},
			wantErr: true,
		},
		{
			name:    "missing provider url",
			env:     map[string]string{envIngestURL: testIngestURL, envAPIKey: "secret"},
			wantErr: true,
		},
		{
			name: "defaults applied",
			env:  requiredEnv(),
			want: defaultConfig(),
		},
		{
			name:    "invalid intraday interval",
			env:     withEnv(map[string]string{envIntradayInterval: "nope"}),
			wantErr: true,
		},
		{
			name:    "zero daily interval",
			env:     withEnv(map[string]string{envDailyInterval: "0s"}),
			wantErr: true,
		},
		{
			name:    "negative ingest timeout",
			env:     withEnv(map[string]string{envIngestTimeout: "-5s"}),
			wantErr: true,
		},
		{
			name:    "negative backfill delay",
			env:     withEnv(map[string]string{envBackfillDelay: "-1s"}),
			wantErr: true,
		},
		{
			name:    "zero window",
			env:     withEnv(map[string]string{envDailyWindowDays: "0"}),
			wantErr: true,
		},
		{
			name:    "invalid port",
			env:     withEnv(map[string]string{envHealthPort: "70000"}),
			wantErr: true,
		},
		{
			name:    "invalid dry run",
			env:     withEnv(map[string]string{envDryRun: "maybe"}),
			wantErr: true,
		},
		{
			name:    "invalid timezone",
			env:     withEnv(map[string]string{envTimezone: "Mars/Olympus"}),
			wantErr: true,
		},
		{
			name:    "invalid ingest url missing scheme",
			env:     withEnv(map[string]string{envIngestURL: "ingest.example.com"}),
			wantErr: true,
		},
		{
			name:    "invalid slack webhook url",
			env:     withEnv(map[string]string{envSlackWebhookURL: "not-a-url"}),
			wantErr: true,
		},
		{
			name: "custom values",
			env: withEnv(map[string]string{
				envIntradayInterval:     "15m",
				envDailyWindowDays:      "30",
				envHealthPort:           "8080",
				envMetricsPort:          "9090",
				envDryRun:               "true",
				envTimezone:             "Europe/Berlin",
				envProviderRequestDelay: "0s",
			}),
			want: custom,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			restoreDir := mustChdir(t, tmpDir)
			defer restoreDir()

			for key, value := range tc.env {
				t.Setenv(key, value)
			}

			got, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got != tc.want {
				t.Fatalf("unexpected config: %+v", got)
			}
		})
	}
}

func TestLoadLocal_SkipsRemoteRequirements(t *testing.T) {
	restoreDir := mustChdir(t, t.TempDir())
	defer restoreDir()
	t.Setenv(envDBPath, "/var/lib/watchdog/state.db")

	got, err := LoadLocal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DBPath != "/var/lib/watchdog/state.db" {
		t.Fatalf("unexpected db path: %s", got.DBPath)
	}
}

func TestLoad_DotEnvAndEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	restoreDir := mustChdir(t, tmpDir)
	defer restoreDir()

	dotenv := []byte(`
# example .env
WB_INGEST_URL=https://from-dotenv.example.com
WB_API_KEY=dotenv-key
WB_PROVIDER_URL=http://dotenv:8765
WB_SLACK_WEBHOOK_URL=https://hooks.slack.com/services/test
`)

	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), dotenv, 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv(envIngestURL, "https://from-env.example.com")
	t.Setenv(envProviderURL, "http://env:8765")

	got, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.IngestURL != "https://from-env.example.com" {
		t.Fatalf("ingest url did not prefer env: %s", got.IngestURL)
	}
	if got.ProviderURL != "http://env:8765" {
		t.Fatalf("provider url did not prefer env: %s", got.ProviderURL)
	}
	if got.APIKey != "dotenv-key" {
		t.Fatalf("api key not loaded from .env: %s", got.APIKey)
	}
	if got.SlackWebhookURL != "https://hooks.slack.com/services/test" {
		t.Fatalf("slack webhook url not loaded from .env: %s", got.SlackWebhookURL)
	}
	if got.IntradayInterval != defaultIntradayInterval {
		t.Fatalf("unexpected intraday interval: %s", got.IntradayInterval)
	}
}

func TestConfigLocation(t *testing.T) {
	loc, err := Config{}.Location()
	if err != nil || loc != time.Local {
		t.Fatalf("expected local zone, got %v %v", loc, err)
	}
	loc, err = Config{Timezone: "UTC"}.Location()
	if err != nil || loc.String() != "UTC" {
		t.Fatalf("expected UTC, got %v %v", loc, err)
	}
}

func mustChdir(t *testing.T, dir string) func() {
	t.Helper()
	original, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	return func() {
		if err := os.Chdir(original); err != nil {
			t.Fatalf("restore dir: %v", err)
		}
	}
}
