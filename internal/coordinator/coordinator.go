package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nholik/watchdog-bridge/internal/calendar"
	"github.com/nholik/watchdog-bridge/internal/config"
	"github.com/nholik/watchdog-bridge/internal/healthcheck"
	"github.com/nholik/watchdog-bridge/internal/metrics"
	"github.com/nholik/watchdog-bridge/internal/notify"
	"github.com/nholik/watchdog-bridge/internal/runner"
	"github.com/nholik/watchdog-bridge/internal/syncer"
	"github.com/nholik/watchdog-bridge/internal/syncstate"
	"github.com/rs/zerolog"
)

// Coordinator schedules the periodic workers, one Runner each, and serves
// manual backfills and administrative requests against the shared engine.
type Coordinator struct {
	logger        zerolog.Logger
	engine        *syncer.Engine
	plan          config.Plan
	backfillDelay time.Duration
	tracker       *healthcheck.Tracker
	notifier      notify.Notifier
	metrics       *metrics.Metrics
	runnerOpts    []runner.Option
	runners       map[string]*runner.Runner
	runnerErrors  map[string]error
	baseCtx       context.Context
	background    sync.WaitGroup
	mu            sync.RWMutex
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithTracker records every finished run in tracker.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(c *Coordinator) {
		c.tracker = tracker
	}
}

// WithNotifier sends notable date transitions to notifier.
func WithNotifier(notifier notify.Notifier) Option {
	return func(c *Coordinator) {
		if notifier != nil {
			c.notifier = notifier
		}
	}
}

// WithMetrics counts notification failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithBackfillDelay sets the pause between backfilled dates.
func WithBackfillDelay(delay time.Duration) Option {
	return func(c *Coordinator) {
		c.backfillDelay = delay
	}
}

// WithRunnerOptions appends options to every Runner the coordinator spawns.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(c *Coordinator) {
		c.runnerOpts = append(c.runnerOpts, opts...)
	}
}

// New constructs a Coordinator for the given engine and schedule.
func New(logger zerolog.Logger, engine *syncer.Engine, plan config.Plan, opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:        logger,
		engine:        engine,
		plan:          plan,
		backfillDelay: syncer.DefaultBackfillDelay,
		notifier:      notify.NewNoop(logger, ""),
		runners:       make(map[string]*runner.Runner),
		runnerErrors:  make(map[string]error),
		baseCtx:       context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run starts all enabled runners in parallel and blocks until context is
// canceled and in-flight backfills have stopped.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	jobs := make([]scheduledJob, 0, 2)
	if c.plan.Intraday.Enabled {
		jobs = append(jobs, scheduledJob{
			job:      syncer.NewIntradayWorker(c.engine),
			interval: c.plan.Intraday.Interval,
		})
	}
	if c.plan.Daily.Enabled {
		jobs = append(jobs, scheduledJob{
			job:      syncer.NewDailyWorker(c.engine, c.plan.Daily.WindowDays),
			interval: c.plan.Daily.Interval,
		})
	}

	c.logger.Info().
		Int("workers", len(jobs)).
		Msg("starting coordinator")

	var wg sync.WaitGroup
	for _, sj := range jobs {
		wg.Add(1)
		go c.spawnRunner(ctx, &wg, sj)
	}

	wg.Wait()
	c.background.Wait()
	c.logger.Info().Msg("all runners stopped")

	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, err := range c.runnerErrors {
		if err != nil {
			c.logger.Error().Err(err).Str("worker", name).Msg("runner error")
		}
	}

	return nil
}

type scheduledJob struct {
	job      runner.Job
	interval time.Duration
}

func (c *Coordinator) spawnRunner(ctx context.Context, wg *sync.WaitGroup, sj scheduledJob) {
	defer wg.Done()

	name := sj.job.Name()
	workerLogger := c.logger.With().Str("worker", name).Logger()

	opts := append([]runner.Option{
		runner.WithJob(sj.job),
		runner.WithReportHandler(c.HandleReport),
	}, c.runnerOpts...)
	r := runner.New(workerLogger, sj.interval, opts...)

	c.mu.Lock()
	c.runners[name] = r
	c.mu.Unlock()

	workerLogger.Info().Dur("interval", sj.interval).Msg("runner started")

	if err := r.Run(ctx); err != nil {
		workerLogger.Error().Err(err).Msg("runner exited with error")
		c.recordError(name, err)
	} else {
		workerLogger.Info().Msg("runner exited cleanly")
	}
}

// HandleReport records a finished run and notifies on notable transitions.
func (c *Coordinator) HandleReport(ctx context.Context, report syncer.RunReport) {
	c.tracker.RecordRun(report)

	notable := notify.Notable(report.Transitions)
	if len(notable) == 0 {
		return
	}
	if err := c.notifier.Notify(ctx, string(report.Worker), notable); err != nil {
		c.metrics.IncNotificationErrors()
		c.logger.Error().
			Err(err).
			Str("worker", string(report.Worker)).
			Int("transitions", len(notable)).
			Msg("notification failed")
	}
}

// RunBackfill runs a backfill over [start, end] and blocks until it finishes.
func (c *Coordinator) RunBackfill(ctx context.Context, start, end calendar.Date) (syncer.RunReport, error) {
	worker, err := syncer.NewBackfillWorker(c.engine, start, end, c.backfillDelay)
	if err != nil {
		return syncer.RunReport{}, err
	}
	report := worker.Run(ctx)
	c.HandleReport(ctx, report)
	return report, nil
}

// StartBackfill launches a backfill in the background on the coordinator's
// context. It fails fast when another backfill is running.
func (c *Coordinator) StartBackfill(start, end calendar.Date) error {
	worker, err := syncer.NewBackfillWorker(c.engine, start, end, c.backfillDelay)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ctx := c.baseCtx
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("coordinator stopping: %w", err)
	}
	if err := worker.Reserve(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.background.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.background.Done()
		report := worker.Run(ctx)
		c.HandleReport(ctx, report)
	}()
	return nil
}

// Wipe clears every stored sync state row.
func (c *Coordinator) Wipe(ctx context.Context) error {
	return c.engine.Wipe(ctx)
}

// States lists every stored sync state row.
func (c *Coordinator) States(ctx context.Context) ([]syncstate.SyncState, error) {
	states, err := c.engine.Store().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sync state: %w", err)
	}
	return states, nil
}

// recordError records a per-worker error for later reporting.
func (c *Coordinator) recordError(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runnerErrors[name] = err
}

// GetRunners returns a copy of the runners map for testing.
func (c *Coordinator) GetRunners() map[string]*runner.Runner {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]*runner.Runner, len(c.runners))
	for k, v := range c.runners {
		result[k] = v
	}
	return result
}
