package syncer

import (
	"context"
	"fmt"

	"github.com/nholik/watchdog-bridge/internal/calendar"
	"github.com/nholik/watchdog-bridge/internal/fingerprint"
	"github.com/nholik/watchdog-bridge/internal/ingest"
	"github.com/nholik/watchdog-bridge/internal/payload"
)

// DebugResult is the outcome of a debug upload.
type DebugResult struct {
	Date     calendar.Date
	Hash     string
	Payload  payload.IngestPayload
	Response ingest.Result
}

// DebugSend captures date and posts it to the debug endpoint. Sync state is
// neither read nor written. A zero date means yesterday.
func (e *Engine) DebugSend(ctx context.Context, date calendar.Date) (DebugResult, error) {
	if date.IsZero() {
		date = e.Today().AddDays(-1)
	}
	if err := e.checkPermissions(ctx); err != nil {
		return DebugResult{}, fmt.Errorf("debug send: %w", err)
	}
	deviceID, err := e.settings.DeviceID(ctx)
	if err != nil {
		return DebugResult{}, fmt.Errorf("debug send: load device id: %w", err)
	}

	start, end := date.Interval(e.location)
	capture, err := e.source.CaptureSnapshot(ctx, start, end)
	if err != nil {
		return DebugResult{}, fmt.Errorf("debug send: %w", err)
	}

	p := payload.New(date, capture.Snapshot, payload.Source{
		SourceApp:   e.sourceApp,
		DeviceID:    deviceID,
		CollectedAt: e.now(),
	})
	hash, err := fingerprint.Compute(p)
	if err != nil {
		return DebugResult{}, fmt.Errorf("debug send: %w", err)
	}

	result, err := e.uploader.PostDebug(ctx, p)
	if err != nil {
		return DebugResult{}, fmt.Errorf("debug send: %w", err)
	}

	e.logger.Info().
		Str("date", date.String()).
		Str("hash", hash).
		Int("status_code", result.StatusCode).
		Bool("success", result.Success).
		Msg("debug payload sent")

	return DebugResult{Date: date, Hash: hash, Payload: p, Response: result}, nil
}
