package syncer

import (
	"time"

	"github.com/nholik/watchdog-bridge/internal/calendar"
	"github.com/nholik/watchdog-bridge/internal/transition"
)

// Worker names a sync job.
type Worker string

const (
	WorkerDaily    Worker = "daily"
	WorkerIntraday Worker = "intraday"
	WorkerBackfill Worker = "backfill"
)

// Outcome is the run-level result handed back to the scheduler.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeRetry   Outcome = "retry"
	OutcomeFailure Outcome = "failure"
)

// Action is what happened to a single date during a run.
type Action string

const (
	ActionUploaded     Action = "uploaded"
	ActionDedupSkipped Action = "dedup_skipped"
	ActionEmptySkipped Action = "empty_skipped"
	ActionFailed       Action = "failed"
)

// DateResult is the per-date line of a run report.
type DateResult struct {
	Date       calendar.Date
	Action     Action
	Hash       string
	StatusCode int
	Reason     string
}

// RunReport summarizes one worker invocation.
type RunReport struct {
	Worker      Worker
	Outcome     Outcome
	StartedAt   time.Time
	FinishedAt  time.Time
	Dates       []DateResult
	Transitions []transition.DateTransition
	Err         error
}

// Duration returns how long the run took.
func (r RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Count returns how many dates ended with action.
func (r RunReport) Count(action Action) int {
	n := 0
	for _, d := range r.Dates {
		if d.Action == action {
			n++
		}
	}
	return n
}

// Failed returns the dates that failed during the run.
func (r RunReport) Failed() []DateResult {
	out := make([]DateResult, 0)
	for _, d := range r.Dates {
		if d.Action == ActionFailed {
			out = append(out, d)
		}
	}
	return out
}

// Result returns the entry for date, if the run processed it.
func (r RunReport) Result(date calendar.Date) (DateResult, bool) {
	for _, d := range r.Dates {
		if d.Date == date {
			return d, true
		}
	}
	return DateResult{}, false
}
