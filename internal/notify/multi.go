package notify

import (
	"context"
	"errors"

	"github.com/nholik/watchdog-bridge/internal/transition"
)

// MultiNotifier fans out notifications to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that dispatches to all provided notifiers.
// Nil entries, including typed nil pointers from disabled channels, are skipped.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier == nil {
			continue
		}
		if webhook, ok := notifier.(*WebhookNotifier); ok && webhook == nil {
			continue
		}
		filtered = append(filtered, notifier)
	}
	return &MultiNotifier{notifiers: filtered}
}

// Notify implements Notifier. Every notifier is attempted; errors are joined.
func (m *MultiNotifier) Notify(ctx context.Context, worker string, transitions []transition.DateTransition) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, worker, transitions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of active notifiers.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}
