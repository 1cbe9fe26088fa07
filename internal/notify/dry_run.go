package notify

import (
	"context"

	"github.com/nholik/watchdog-bridge/internal/transition"
	"github.com/rs/zerolog"
)

// DryRunNotifier logs transitions without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery to inner and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, worker string, transitions []transition.DateTransition) error {
	for _, change := range transitions {
		event := n.logger.Info().
			Str("worker", workerLabel(worker)).
			Str("date", change.Date).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus))
		if change.Reason != "" {
			event = event.Str("reason", change.Reason)
		}
		event.Msg("[DRY-RUN] Would notify")
	}
	return nil
}
