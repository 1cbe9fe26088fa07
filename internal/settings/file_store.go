package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrCorrupt is returned when the settings file exists but cannot be decoded.
// The file is left in place so the device id is never silently replaced.
var ErrCorrupt = errors.New("settings file corrupt")

// FileStore persists settings as JSON on disk.
type FileStore struct {
	path   string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewFileStore returns a JSON-backed settings store.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// DeviceID returns the stable device identifier, generating and persisting
// a random UUID the first time it is requested.
func (s *FileStore) DeviceID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	if current.DeviceID != "" {
		return current.DeviceID, nil
	}

	current.DeviceID = uuid.NewString()
	if err := s.save(ctx, current); err != nil {
		return "", err
	}
	s.logger.Info().Str("device_id", current.DeviceID).Msg("generated device id")
	return current.DeviceID, nil
}

// SetLastIntradayRun records when the intraday worker last finished.
func (s *FileStore) SetLastIntradayRun(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx)
	if err != nil {
		return err
	}
	current.LastIntradayRun = at.UTC()
	return s.save(ctx, current)
}

// LastIntradayRun returns the recorded intraday run time, zero if never.
func (s *FileStore) LastIntradayRun(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return current.LastIntradayRun, nil
}

// load reads settings from disk. A missing file yields empty settings.
func (s *FileStore) load(ctx context.Context) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug().Str("path", s.path).Msg("settings file missing, starting fresh")
			return Settings{}, nil
		}
		return Settings{}, err
	}

	var current Settings
	if err := json.Unmarshal(data, &current); err != nil {
		s.logger.Error().Str("path", s.path).Err(err).Msg("settings file corrupt")
		return Settings{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return current, nil
}

// save writes settings to disk atomically.
func (s *FileStore) save(ctx context.Context, current Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return err
	}

	cleanup := func() {
		_ = os.Remove(tempFile.Name())
	}

	encoder := json.NewEncoder(tempFile)
	if err := encoder.Encode(current); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tempFile.Name(), s.path); err != nil {
		cleanup()
		return err
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	return nil
}
