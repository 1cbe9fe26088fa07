package syncer

import (
	"errors"
	"fmt"

	"github.com/nholik/watchdog-bridge/internal/healthsource"
	"github.com/nholik/watchdog-bridge/internal/ingest"
)

const reasonPermissionMissing = "permission_missing"

// reasonFor turns a date-scoped error into the short string stored in lastError.
func reasonFor(err error) string {
	var captureErr *healthsource.CaptureError
	var transportErr *ingest.TransportError
	switch {
	case errors.Is(err, healthsource.ErrPermissionMissing):
		return reasonPermissionMissing
	case errors.As(err, &captureErr):
		return fmt.Sprintf("capture_failed: %d record types failed", len(captureErr.Failures))
	case errors.As(err, &transportErr):
		return string(transportErr.Kind)
	default:
		return err.Error()
	}
}

func reasonForStatus(code int) string {
	return fmt.Sprintf("HTTP %d", code)
}
