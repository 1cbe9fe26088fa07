package healthcheck

import (
	"sync"
	"time"

	"github.com/nholik/watchdog-bridge/internal/syncer"
)

// WorkerStatus describes the latest run of one worker.
type WorkerStatus struct {
	LastRun     *time.Time `json:"last_run"`
	DurationMS  int64      `json:"duration_ms"`
	Outcome     string     `json:"outcome"`
	Dates       int        `json:"dates"`
	FailedDates int        `json:"failed_dates"`
}

// Snapshot is the body served by the health endpoints.
type Snapshot struct {
	LastIntradayRun *time.Time              `json:"last_intraday_run"`
	Workers         map[string]WorkerStatus `json:"workers"`
}

// Tracker records worker runs for the health endpoints.
type Tracker struct {
	mu           sync.RWMutex
	lastIntraday time.Time
	workers      map[string]WorkerStatus
	ready        bool
	now          func() time.Time
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		workers: make(map[string]WorkerStatus),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SeedLastIntradayRun restores the persisted intraday run time at startup so
// liveness survives a restart. It does not mark the tracker ready.
func (t *Tracker) SeedLastIntradayRun(at time.Time) {
	if t == nil || at.IsZero() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if at.After(t.lastIntraday) {
		t.lastIntraday = at.UTC()
	}
}

// RecordRun stores a finished run. Any finished run marks the process ready.
func (t *Tracker) RecordRun(report syncer.RunReport) {
	if t == nil {
		return
	}
	finished := report.FinishedAt
	if finished.IsZero() {
		finished = t.now()
	}
	finished = finished.UTC()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.workers[string(report.Worker)] = WorkerStatus{
		LastRun:     &finished,
		DurationMS:  int64(report.Duration() / time.Millisecond),
		Outcome:     string(report.Outcome),
		Dates:       len(report.Dates),
		FailedDates: report.Count(syncer.ActionFailed),
	}
	if report.Worker == syncer.WorkerIntraday {
		t.lastIntraday = finished
	}
	t.ready = true
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{Workers: map[string]WorkerStatus{}}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	workers := make(map[string]WorkerStatus, len(t.workers))
	for name, status := range t.workers {
		workers[name] = status
	}
	var last *time.Time
	if !t.lastIntraday.IsZero() {
		value := t.lastIntraday
		last = &value
	}
	return Snapshot{LastIntradayRun: last, Workers: workers}
}

// Ready reports whether at least one worker run has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the intraday worker ran within 2x its interval.
// A non-positive interval means intraday is disabled; health then follows
// readiness.
func (t *Tracker) Healthy(now time.Time, intradayInterval time.Duration) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if intradayInterval <= 0 {
		return t.ready
	}
	if t.lastIntraday.IsZero() {
		return false
	}
	return now.Sub(t.lastIntraday) <= 2*intradayInterval
}
