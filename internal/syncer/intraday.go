package syncer

import (
	"context"
	"fmt"

	"github.com/nholik/watchdog-bridge/internal/calendar"
)

// IntradayWorker keeps today's partial data current.
type IntradayWorker struct {
	engine *Engine
}

// NewIntradayWorker returns the worker for today's date.
func NewIntradayWorker(engine *Engine) *IntradayWorker {
	return &IntradayWorker{engine: engine}
}

// Name implements the scheduler job contract.
func (w *IntradayWorker) Name() string {
	return string(WorkerIntraday)
}

// Run syncs [start of today, now). An empty capture is still uploaded since
// "no data yet" is a valid state for today. Every exit path records the run
// time in settings.
func (w *IntradayWorker) Run(ctx context.Context) (report RunReport) {
	e := w.engine
	report = e.begin(WorkerIntraday)

	defer func() {
		at := e.now()
		if err := e.settings.SetLastIntradayRun(context.WithoutCancel(ctx), at); err != nil {
			e.logger.Error().Err(err).Str("worker", w.Name()).Msg("failed to record last intraday run")
		}
		e.metrics.SetLastIntradayRun(at)
	}()

	if err := e.checkPermissions(ctx); err != nil {
		report.Outcome = OutcomeRetry
		report.Err = fmt.Errorf("intraday sync: %w", err)
		return e.finish(report)
	}

	deviceID, err := e.settings.DeviceID(ctx)
	if err != nil {
		report.Outcome = OutcomeRetry
		report.Err = fmt.Errorf("intraday sync: load device id: %w", err)
		return e.finish(report)
	}

	now := e.now()
	today := calendar.Today(now, e.location)
	outcome, err := e.syncDate(ctx, dateJob{
		worker:   WorkerIntraday,
		date:     today,
		start:    today.Start(e.location),
		end:      now,
		deviceID: deviceID,
		post:     e.uploader.PostIntraday,
	})
	if err != nil {
		report.Outcome = OutcomeRetry
		report.Err = fmt.Errorf("intraday sync interrupted: %w", err)
		return e.finish(report)
	}
	e.appendOutcome(&report, outcome)

	if outcome.result.Action == ActionFailed {
		report.Outcome = OutcomeRetry
		report.Err = fmt.Errorf("intraday sync %s: %s", today, outcome.result.Reason)
		return e.finish(report)
	}

	report.Outcome = OutcomeSuccess
	return e.finish(report)
}
