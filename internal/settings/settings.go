package settings

import (
	"context"
	"time"
)

// Settings is the local key-value bookkeeping the sync engine relies on.
type Settings struct {
	DeviceID        string    `json:"device_id"`
	LastIntradayRun time.Time `json:"last_intraday_run"`
}

// Store exposes the reads and writes the workers need.
type Store interface {
	DeviceID(ctx context.Context) (string, error)
	SetLastIntradayRun(ctx context.Context, at time.Time) error
	LastIntradayRun(ctx context.Context) (time.Time, error)
}
