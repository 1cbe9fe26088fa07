package runner

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nholik/watchdog-bridge/internal/syncer"
	"github.com/rs/zerolog"
)

const (
	defaultRetryInitial = 30 * time.Second
	defaultRetryMax     = 15 * time.Minute
)

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Job is a run-to-completion sync worker.
type Job interface {
	Name() string
	Run(ctx context.Context) syncer.RunReport
}

// ReportHandler receives every finished run report.
type ReportHandler func(ctx context.Context, report syncer.RunReport)

// Runner drives one job on a fixed interval. Runs never overlap: the next
// tick is only read after the current run returns.
type Runner struct {
	logger        zerolog.Logger
	interval      time.Duration
	tickerFactory func(time.Duration) Ticker
	after         func(time.Duration) <-chan time.Time
	runOnce       func(context.Context) error
	job           Job
	handlers      []ReportHandler
	retryInitial  time.Duration
	retryMax      time.Duration
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithAfter overrides how retry delays are scheduled.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(r *Runner) {
		r.after = after
	}
}

// WithRunOnce overrides the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithJob sets the worker run by the default RunOnce.
func WithJob(job Job) Option {
	return func(r *Runner) {
		r.job = job
	}
}

// WithReportHandler registers a callback for finished runs.
func WithReportHandler(handler ReportHandler) Option {
	return func(r *Runner) {
		if handler != nil {
			r.handlers = append(r.handlers, handler)
		}
	}
}

// WithRetryBackoff sets the first and largest delay before re-running a job
// whose run asked to be retried.
func WithRetryBackoff(initial, maxWait time.Duration) Option {
	return func(r *Runner) {
		r.retryInitial = initial
		r.retryMax = maxWait
	}
}

// New constructs a Runner with the given logger and interval.
func New(logger zerolog.Logger, interval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		logger:   logger,
		interval: interval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		after:        time.After,
		retryInitial: defaultRetryInitial,
		retryMax:     defaultRetryMax,
	}
	r.runOnce = r.defaultRunOnce

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts the main loop and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return errors.New("interval must be greater than zero")
	}

	retries := backoff.NewExponentialBackOff()
	retries.InitialInterval = r.retryInitial
	retries.MaxInterval = r.retryMax
	retries.MaxElapsedTime = 0
	retries.Reset()

	var retry <-chan time.Time
	cycle := func() {
		retry = nil
		err := r.RunOnce(ctx)
		if err == nil {
			retries.Reset()
			return
		}
		r.logger.Error().Err(err).Msg("run cycle failed")

		var runtimeErr *RuntimeError
		if !errors.As(err, &runtimeErr) || !runtimeErr.Retryable || ctx.Err() != nil {
			return
		}
		wait := retries.NextBackOff()
		if wait >= r.interval {
			return
		}
		r.logger.Info().Dur("retry_in", wait).Msg("scheduling retry")
		retry = r.after(wait)
	}

	// Run immediately on startup
	cycle()

	ticker := r.tickerFactory(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
			cycle()
		case <-retry:
			cycle()
		}
	}
}

// RunOnce executes a single cycle of the runner.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

func (r *Runner) defaultRunOnce(ctx context.Context) error {
	if r.job == nil {
		return nil
	}

	report := r.job.Run(ctx)
	for _, handler := range r.handlers {
		handler(ctx, report)
	}

	switch report.Outcome {
	case syncer.OutcomeSuccess:
		return nil
	case syncer.OutcomeRetry:
		return wrapRuntime(r.job.Name(), reportErr(report), true)
	default:
		return wrapRuntime(r.job.Name(), reportErr(report), false)
	}
}

func reportErr(report syncer.RunReport) error {
	if report.Err != nil {
		return report.Err
	}
	return errors.New(string(report.Outcome))
}
