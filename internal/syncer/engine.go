package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nholik/watchdog-bridge/internal/calendar"
	"github.com/nholik/watchdog-bridge/internal/fingerprint"
	"github.com/nholik/watchdog-bridge/internal/healthsource"
	"github.com/nholik/watchdog-bridge/internal/ingest"
	"github.com/nholik/watchdog-bridge/internal/metrics"
	"github.com/nholik/watchdog-bridge/internal/payload"
	"github.com/nholik/watchdog-bridge/internal/settings"
	"github.com/nholik/watchdog-bridge/internal/syncstate"
	"github.com/nholik/watchdog-bridge/internal/transition"
	"github.com/rs/zerolog"
)

// ErrBackfillRunning is returned when a backfill is requested while another
// one is still in progress.
var ErrBackfillRunning = errors.New("backfill already running")

// Uploader is the ingest surface the workers use.
type Uploader interface {
	PostDaily(ctx context.Context, p payload.IngestPayload) (ingest.Result, error)
	PostIntraday(ctx context.Context, p payload.IngestPayload) (ingest.Result, error)
	PostDebug(ctx context.Context, p payload.IngestPayload) (ingest.Result, error)
}

// Engine holds the services every worker shares. Workers never talk to each
// other; they meet only in the store, serialized per date by the lock table.
type Engine struct {
	logger    zerolog.Logger
	store     syncstate.Store
	locks     *syncstate.DateLocks
	source    healthsource.Source
	uploader  Uploader
	settings  settings.Store
	metrics   *metrics.Metrics
	location  *time.Location
	now       func() time.Time
	sleep     func(context.Context, time.Duration) bool
	sourceApp string
	backfill  atomic.Bool
}

// Option customizes Engine behavior.
type Option func(*Engine)

// WithLocation sets the zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithClock overrides the time source (primarily for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithSleep overrides how delays between backfill dates wait.
func WithSleep(sleep func(context.Context, time.Duration) bool) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// WithMetrics records run and per-date outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithSourceApp sets the source_app stamped on every payload.
func WithSourceApp(app string) Option {
	return func(e *Engine) {
		if app != "" {
			e.sourceApp = app
		}
	}
}

// WithDateLocks shares a lock table with other engines on the same store.
func WithDateLocks(locks *syncstate.DateLocks) Option {
	return func(e *Engine) {
		if locks != nil {
			e.locks = locks
		}
	}
}

// New builds an Engine from its collaborators.
func New(logger zerolog.Logger, store syncstate.Store, source healthsource.Source, uploader Uploader, prefs settings.Store, opts ...Option) *Engine {
	e := &Engine{
		logger:    logger,
		store:     store,
		locks:     syncstate.NewDateLocks(),
		source:    source,
		uploader:  uploader,
		settings:  prefs,
		location:  time.Local,
		now:       time.Now,
		sleep:     sleepWithContext,
		sourceApp: payload.DefaultSourceApp,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the shared sync state store.
func (e *Engine) Store() syncstate.Store {
	return e.store
}

// Location returns the zone that defines calendar days.
func (e *Engine) Location() *time.Location {
	return e.location
}

// Today returns the current local calendar date.
func (e *Engine) Today() calendar.Date {
	return calendar.Today(e.now(), e.location)
}

// Wipe removes every stored sync state row.
func (e *Engine) Wipe(ctx context.Context) error {
	if err := e.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("wipe sync state: %w", err)
	}
	e.logger.Warn().Msg("sync state wiped")
	return nil
}

// dateJob is one date's work within a run.
type dateJob struct {
	worker    Worker
	date      calendar.Date
	start     time.Time
	end       time.Time
	skipEmpty bool
	deviceID  string
	post      func(context.Context, payload.IngestPayload) (ingest.Result, error)
}

// dateOutcome carries what syncDate did so the caller can build a report.
type dateOutcome struct {
	result     DateResult
	transition *transition.DateTransition
	err        error
}

// syncDate runs the per-date algorithm under the date's lock. A non-nil
// returned error means the run was interrupted and state was not touched.
func (e *Engine) syncDate(ctx context.Context, job dateJob) (dateOutcome, error) {
	dateKey := job.date.String()
	logger := e.logger.With().Str("worker", string(job.worker)).Str("date", dateKey).Logger()

	unlock := e.locks.Lock(dateKey)
	defer unlock()

	prev, found, err := e.store.Get(ctx, dateKey)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dateOutcome{}, ctxErr
		}
		logger.Error().Err(err).Msg("failed to read sync state")
		return dateOutcome{
			result: DateResult{Date: job.date, Action: ActionFailed, Reason: reasonFor(err)},
			err:    err,
		}, nil
	}

	capture, err := e.source.CaptureSnapshot(ctx, job.start, job.end)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dateOutcome{}, ctxErr
		}
		return e.recordFailure(ctx, logger, job.date, "", 0, err)
	}
	for _, failure := range capture.Failures {
		logger.Warn().
			Err(failure.Err).
			Str("record_type", string(failure.Type)).
			Bool("quota", failure.Quota).
			Msg("record type skipped")
	}

	if job.skipEmpty && capture.Snapshot.IsEmpty() {
		logger.Info().Msg("no data available yet, skipping date")
		return dateOutcome{result: DateResult{Date: job.date, Action: ActionEmptySkipped}}, nil
	}

	p := payload.New(job.date, capture.Snapshot, payload.Source{
		SourceApp:   e.sourceApp,
		DeviceID:    job.deviceID,
		CollectedAt: e.now(),
	})
	hash, err := fingerprint.Compute(p)
	if err != nil {
		return e.recordFailure(ctx, logger, job.date, "", 0, err)
	}

	if found && prev.DataHash == hash {
		logger.Debug().Str("hash", hash).Msg("hash unchanged, skipping upload")
		return dateOutcome{result: DateResult{Date: job.date, Action: ActionDedupSkipped, Hash: hash}}, nil
	}

	result, err := job.post(ctx, p)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dateOutcome{}, ctxErr
		}
		return e.recordFailure(ctx, logger, job.date, hash, 0, err)
	}
	if !result.Success {
		statusErr := errors.New(reasonForStatus(result.StatusCode))
		return e.recordFailure(ctx, logger, job.date, hash, result.StatusCode, statusErr)
	}

	at := e.now()
	var before *syncstate.SyncState
	next, err := e.store.Update(ctx, dateKey, func(current syncstate.SyncState, exists bool) syncstate.SyncState {
		before = foundRow(current, exists)
		return current.RecordSuccess(hash, at)
	})
	if err != nil {
		logger.Error().Err(err).Str("hash", hash).Msg("upload accepted but sync state was not saved")
		return dateOutcome{
			result: DateResult{Date: job.date, Action: ActionFailed, Hash: hash, StatusCode: result.StatusCode, Reason: reasonFor(err)},
			err:    err,
		}, nil
	}

	logger.Info().
		Str("hash", hash).
		Int("status_code", result.StatusCode).
		Msg("date synced")

	outcome := dateOutcome{
		result: DateResult{Date: job.date, Action: ActionUploaded, Hash: hash, StatusCode: result.StatusCode},
	}
	if change, ok := transition.Detect(before, next); ok {
		outcome.transition = &change
	}
	return outcome, nil
}

func foundRow(row syncstate.SyncState, found bool) *syncstate.SyncState {
	if !found {
		return nil
	}
	return &row
}

func (e *Engine) recordFailure(
	ctx context.Context,
	logger zerolog.Logger,
	date calendar.Date,
	hash string,
	statusCode int,
	cause error,
) (dateOutcome, error) {
	reason := reasonFor(cause)
	at := e.now()

	outcome := dateOutcome{
		result: DateResult{Date: date, Action: ActionFailed, Hash: hash, StatusCode: statusCode, Reason: reason},
		err:    cause,
	}
	var before *syncstate.SyncState
	next, err := e.store.Update(ctx, date.String(), func(current syncstate.SyncState, exists bool) syncstate.SyncState {
		before = foundRow(current, exists)
		return current.RecordFailure(reason, at)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dateOutcome{}, ctxErr
		}
		logger.Error().Err(cause).Str("reason", reason).Msg("date sync failed")
		logger.Error().Err(err).Msg("failed to record sync failure")
		return outcome, nil
	}

	logger.Error().
		Err(cause).
		Str("hash", hash).
		Int("status_code", statusCode).
		Str("reason", reason).
		Int("attempt_count", next.AttemptCount).
		Msg("date sync failed")

	if change, ok := transition.Detect(before, next); ok {
		outcome.transition = &change
	}
	return outcome, nil
}

// checkPermissions reports ErrPermissionMissing when the source lacks grants.
func (e *Engine) checkPermissions(ctx context.Context) error {
	ok, err := e.source.HasPermission(ctx, e.source.Permissions())
	if err != nil {
		return err
	}
	if !ok {
		return healthsource.ErrPermissionMissing
	}
	return nil
}

// runDates applies the per-date algorithm to every date in order. Date
// failures are isolated; only cancellation stops the loop early.
func (e *Engine) runDates(ctx context.Context, report *RunReport, worker Worker, dates []calendar.Date, deviceID string, delay time.Duration) error {
	for i, date := range dates {
		if i > 0 && delay > 0 {
			if !e.sleep(ctx, delay) {
				return ctx.Err()
			}
		}
		start, end := date.Interval(e.location)
		outcome, err := e.syncDate(ctx, dateJob{
			worker:    worker,
			date:      date,
			start:     start,
			end:       end,
			skipEmpty: true,
			deviceID:  deviceID,
			post:      e.uploader.PostDaily,
		})
		if err != nil {
			return err
		}
		e.appendOutcome(report, outcome)
	}
	return nil
}

func (e *Engine) appendOutcome(report *RunReport, outcome dateOutcome) {
	report.Dates = append(report.Dates, outcome.result)
	if outcome.transition != nil {
		report.Transitions = append(report.Transitions, *outcome.transition)
	}
	e.metrics.IncDates(string(report.Worker), string(outcome.result.Action))
}

func (e *Engine) begin(worker Worker) RunReport {
	return RunReport{Worker: worker, StartedAt: e.now()}
}

func (e *Engine) finish(report RunReport) RunReport {
	report.FinishedAt = e.now()
	transition.SortByDate(report.Transitions)

	e.metrics.IncRuns(string(report.Worker), string(report.Outcome))
	e.metrics.ObserveRunDuration(string(report.Worker), report.Duration())

	event := e.logger.Info()
	if report.Outcome != OutcomeSuccess {
		event = e.logger.Warn().Err(report.Err)
	}
	event.
		Str("worker", string(report.Worker)).
		Str("outcome", string(report.Outcome)).
		Int("dates", len(report.Dates)).
		Int("uploaded", report.Count(ActionUploaded)).
		Int("dedup_skipped", report.Count(ActionDedupSkipped)).
		Int("empty_skipped", report.Count(ActionEmptySkipped)).
		Int("failed", report.Count(ActionFailed)).
		Dur("duration", report.Duration()).
		Msg("sync run finished")
	return report
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
