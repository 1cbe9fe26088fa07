package notify

import (
	"context"

	"github.com/nholik/watchdog-bridge/internal/transition"
)

// Notifier delivers date transition alerts for one worker run to an external system.
type Notifier interface {
	Notify(ctx context.Context, worker string, transitions []transition.DateTransition) error
}

// Notable keeps the transitions worth alerting on: a date that starts
// failing, and a failing date that recovers. Repeated failures of the same
// date are dropped so a stuck date alerts once.
func Notable(transitions []transition.DateTransition) []transition.DateTransition {
	out := make([]transition.DateTransition, 0)
	for _, change := range transitions {
		if change.IsRecovery() || (change.IsFailure() && change.PreviousStatus != change.CurrentStatus) {
			out = append(out, change)
		}
	}
	return out
}

func workerLabel(worker string) string {
	if worker == "" {
		return "sync"
	}
	return worker
}
