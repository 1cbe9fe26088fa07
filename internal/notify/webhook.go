package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/nholik/watchdog-bridge/internal/transition"
	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"worker":"{{ .Worker }}","generated_at":"{{ .GeneratedAt.Format "2006-01-02T15:04:05Z07:00" }}","transitions":{{ toJson .Transitions }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	Worker      string
	Transitions []WebhookTransition
	GeneratedAt time.Time
}

// WebhookTransition is the JSON shape of one date transition.
type WebhookTransition struct {
	Date           string `json:"date"`
	PreviousStatus string `json:"previous_status"`
	CurrentStatus  string `json:"current_status"`
	Reason         string `json:"reason,omitempty"`
	AttemptCount   int    `json:"attempt_count"`
	DataHash       string `json:"data_hash,omitempty"`
}

// WebhookNotifier sends transition notifications to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *poster
	now      func() time.Time
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// It returns nil when no URL is configured.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newPoster(logger, "webhook", webhookURL, defaultTiming),
		now:      time.Now,
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, worker string, transitions []transition.DateTransition) error {
	if n == nil || len(transitions) == 0 {
		return nil
	}
	worker = workerLabel(worker)

	data := WebhookPayload{
		Worker:      worker,
		Transitions: toWebhookTransitions(transitions),
		GeneratedAt: n.now().UTC(),
	}

	var buf bytes.Buffer
	if err := n.template.Execute(&buf, data); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}

	if err := n.poster.deliver(ctx, worker, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("worker", worker).
		Int("transitions", len(transitions)).
		Msg("webhook notification sent")

	return nil
}

func toWebhookTransitions(transitions []transition.DateTransition) []WebhookTransition {
	out := make([]WebhookTransition, 0, len(transitions))
	for _, change := range transitions {
		item := WebhookTransition{
			Date:           change.Date,
			PreviousStatus: statusLabel(change.PreviousStatus),
			CurrentStatus:  statusLabel(change.CurrentStatus),
			Reason:         change.Reason,
		}
		if change.AttemptChange != nil {
			item.AttemptCount = change.AttemptChange.Current
		}
		if change.HashChange != nil {
			item.DataHash = change.HashChange.Current
		}
		out = append(out, item)
	}
	return out
}
