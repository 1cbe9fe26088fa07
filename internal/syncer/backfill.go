package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nholik/watchdog-bridge/internal/calendar"
)

// DefaultBackfillDelay spaces dates so a long backfill does not starve the provider.
const DefaultBackfillDelay = 500 * time.Millisecond

// BackfillWorker syncs an explicit inclusive date range.
type BackfillWorker struct {
	engine   *Engine
	start    calendar.Date
	end      calendar.Date
	delay    time.Duration
	reserved bool
}

// NewBackfillWorker validates the range and returns a worker for it.
func NewBackfillWorker(engine *Engine, start, end calendar.Date, delay time.Duration) (*BackfillWorker, error) {
	if start.IsZero() || end.IsZero() {
		return nil, errors.New("backfill range requires both start and end dates")
	}
	if end.Before(start) {
		return nil, fmt.Errorf("backfill start %s is after end %s", start, end)
	}
	if delay < 0 {
		delay = 0
	}
	return &BackfillWorker{engine: engine, start: start, end: end, delay: delay}, nil
}

// Name implements the scheduler job contract.
func (w *BackfillWorker) Name() string {
	return string(WorkerBackfill)
}

// Dates returns every date the worker will process, oldest first.
func (w *BackfillWorker) Dates() []calendar.Date {
	return calendar.Range(w.start, w.end)
}

// Reserve claims the engine's backfill slot for this worker. It returns
// ErrBackfillRunning when another backfill holds the slot. A reserved worker
// must be Run, which releases the slot when it returns.
func (w *BackfillWorker) Reserve() error {
	if w.reserved {
		return nil
	}
	if !w.engine.backfill.CompareAndSwap(false, true) {
		return ErrBackfillRunning
	}
	w.reserved = true
	return nil
}

// Run applies the daily algorithm to each date in the range. Only one backfill
// may run per engine; a concurrent call fails with ErrBackfillRunning.
func (w *BackfillWorker) Run(ctx context.Context) RunReport {
	e := w.engine
	report := e.begin(WorkerBackfill)

	if err := w.Reserve(); err != nil {
		report.Outcome = OutcomeFailure
		report.Err = err
		return e.finish(report)
	}
	defer func() {
		w.reserved = false
		e.backfill.Store(false)
	}()

	if err := e.checkPermissions(ctx); err != nil {
		report.Outcome = OutcomeFailure
		report.Err = fmt.Errorf("backfill: %w", err)
		return e.finish(report)
	}

	deviceID, err := e.settings.DeviceID(ctx)
	if err != nil {
		report.Outcome = OutcomeFailure
		report.Err = fmt.Errorf("backfill: load device id: %w", err)
		return e.finish(report)
	}

	e.logger.Info().
		Str("worker", w.Name()).
		Str("start", w.start.String()).
		Str("end", w.end.String()).
		Msg("backfill started")

	if err := e.runDates(ctx, &report, WorkerBackfill, w.Dates(), deviceID, w.delay); err != nil {
		report.Outcome = OutcomeRetry
		report.Err = fmt.Errorf("backfill interrupted: %w", err)
		return e.finish(report)
	}

	report.Outcome = OutcomeSuccess
	return e.finish(report)
}

// BackfillRunning reports whether a backfill is in progress.
func (e *Engine) BackfillRunning() bool {
	return e.backfill.Load()
}
