package syncer

import (
	"context"
	"fmt"

	"github.com/nholik/watchdog-bridge/internal/calendar"
)

// DefaultWindowDays is how far back the daily worker looks.
const DefaultWindowDays = 14

// DailyWorker re-syncs the trailing window of completed days.
type DailyWorker struct {
	engine     *Engine
	windowDays int
}

// NewDailyWorker returns a worker covering the windowDays before today.
func NewDailyWorker(engine *Engine, windowDays int) *DailyWorker {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &DailyWorker{engine: engine, windowDays: windowDays}
}

// Name implements the scheduler job contract.
func (w *DailyWorker) Name() string {
	return string(WorkerDaily)
}

// Run syncs yesterday back through the window, newest first. Today is never
// included. Missing permissions fail the run before any date is touched.
func (w *DailyWorker) Run(ctx context.Context) RunReport {
	e := w.engine
	report := e.begin(WorkerDaily)

	if err := e.checkPermissions(ctx); err != nil {
		report.Outcome = OutcomeFailure
		report.Err = fmt.Errorf("daily sync: %w", err)
		return e.finish(report)
	}

	deviceID, err := e.settings.DeviceID(ctx)
	if err != nil {
		report.Outcome = OutcomeFailure
		report.Err = fmt.Errorf("daily sync: load device id: %w", err)
		return e.finish(report)
	}

	dates := calendar.TrailingWindow(e.Today(), w.windowDays)
	if err := e.runDates(ctx, &report, WorkerDaily, dates, deviceID, 0); err != nil {
		report.Outcome = OutcomeRetry
		report.Err = fmt.Errorf("daily sync interrupted: %w", err)
		return e.finish(report)
	}

	report.Outcome = OutcomeSuccess
	return e.finish(report)
}
