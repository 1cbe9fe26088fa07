package transition

import (
	"sort"

	"github.com/nholik/watchdog-bridge/internal/syncstate"
)

// HashChange captures the accepted fingerprint before and after a run.
type HashChange struct {
	Previous string
	Current  string
}

// AttemptChange captures the consecutive failure count before and after a run.
type AttemptChange struct {
	Previous int
	Current  int
}

// DateTransition describes how one date's sync state moved.
type DateTransition struct {
	Date           string
	PreviousStatus syncstate.Status
	CurrentStatus  syncstate.Status
	Reason         string
	HashChange     *HashChange
	AttemptChange  *AttemptChange
}

// IsFailure reports whether the date ended the run in the failed state.
func (t DateTransition) IsFailure() bool {
	return t.CurrentStatus == syncstate.StatusFailed
}

// IsRecovery reports whether a previously failing date synced again.
func (t DateTransition) IsRecovery() bool {
	return t.PreviousStatus == syncstate.StatusFailed && t.CurrentStatus == syncstate.StatusSynced
}

// Detect compares the row read before processing a date with the row written
// after it. Timestamp-only changes are not transitions.
func Detect(prev *syncstate.SyncState, current syncstate.SyncState) (DateTransition, bool) {
	previous := syncstate.SyncState{Date: current.Date}
	if prev != nil {
		previous = *prev
	}

	prevStatus := previous.Status()
	currentStatus := current.Status()
	if prevStatus == currentStatus &&
		previous.DataHash == current.DataHash &&
		previous.AttemptCount == current.AttemptCount {
		return DateTransition{}, false
	}

	transition := DateTransition{
		Date:           current.Date,
		PreviousStatus: prevStatus,
		CurrentStatus:  currentStatus,
		Reason:         current.LastError,
	}
	if previous.DataHash != current.DataHash {
		transition.HashChange = &HashChange{
			Previous: previous.DataHash,
			Current:  current.DataHash,
		}
	}
	if previous.AttemptCount != current.AttemptCount {
		transition.AttemptChange = &AttemptChange{
			Previous: previous.AttemptCount,
			Current:  current.AttemptCount,
		}
	}
	return transition, true
}

// SortByDate orders transitions oldest first.
func SortByDate(transitions []DateTransition) {
	sort.SliceStable(transitions, func(i, j int) bool {
		return transitions[i].Date < transitions[j].Date
	})
}

// Failures returns the transitions that ended in the failed state.
func Failures(transitions []DateTransition) []DateTransition {
	out := make([]DateTransition, 0)
	for _, t := range transitions {
		if t.IsFailure() {
			out = append(out, t)
		}
	}
	return out
}
