package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nholik/watchdog-bridge/internal/syncstate"
	"github.com/nholik/watchdog-bridge/internal/transition"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// header and context blocks lead every message
	slackReservedBlocks = 2
	slackMaxTransitions = slackMaxBlocks - slackReservedBlocks
	shortHashLen        = 12
)

// SlackNotifier posts Block Kit messages to an incoming webhook.
type SlackNotifier struct {
	logger zerolog.Logger
	timing timing
	poster *poster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	notifier := &SlackNotifier{logger: logger, timing: defaultTiming}
	for _, opt := range opts {
		opt(notifier)
	}
	notifier.poster = newPoster(logger, "slack", webhookURL, notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, worker string, transitions []transition.DateTransition) error {
	if len(transitions) == 0 {
		return nil
	}
	worker = workerLabel(worker)

	messages := buildSlackMessages(worker, transitions)
	for _, message := range messages {
		body, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.deliver(ctx, worker, body); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Str("worker", worker).
		Int("transitions", len(transitions)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func buildSlackMessages(worker string, transitions []transition.DateTransition) []slack.WebhookMessage {
	total := len(transitions)
	if total == 0 {
		return nil
	}

	parts := (total + slackMaxTransitions - 1) / slackMaxTransitions
	messages := make([]slack.WebhookMessage, 0, parts)
	for i := 0; i < total; i += slackMaxTransitions {
		end := min(i+slackMaxTransitions, total)
		messages = append(messages, buildSlackMessage(worker, transitions[i:end], total, i/slackMaxTransitions+1, parts))
	}
	return messages
}

func buildSlackMessage(worker string, transitions []transition.DateTransition, total, part, parts int) slack.WebhookMessage {
	failing := 0
	for _, change := range transitions {
		if change.IsFailure() {
			failing++
		}
	}

	summary := fmt.Sprintf("watchdog-bridge %s sync: %d date transition(s)", worker, total)
	if parts > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, part, parts)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))

	elements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Worker: *%s*", worker), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Failing: %d", failing), false, false),
	}
	if parts > 1 {
		elements = append(elements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", part, parts), false, false))
	}

	blocks := []slack.Block{header, slack.NewContextBlock("", elements...)}
	for _, change := range transitions {
		blocks = append(blocks, buildTransitionBlock(change))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildTransitionBlock(change transition.DateTransition) slack.Block {
	title := fmt.Sprintf("*%s*: `%s` → `%s`", change.Date, statusLabel(change.PreviousStatus), statusLabel(change.CurrentStatus))
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 3)
	if change.Reason != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Reason:*\n"+change.Reason, false, false))
	}
	if change.AttemptChange != nil && change.AttemptChange.Current > 0 {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Attempts:*\n%d", change.AttemptChange.Current), false, false))
	}
	if change.HashChange != nil && change.HashChange.Current != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Hash:*\n`%s`", shortHash(change.HashChange.Current)), false, false))
	}
	if len(fields) == 0 {
		fields = nil
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func shortHash(hash string) string {
	if len(hash) <= shortHashLen {
		return hash
	}
	return hash[:shortHashLen]
}

func statusLabel(status syncstate.Status) string {
	if status == "" {
		return string(syncstate.StatusUnsynced)
	}
	return string(status)
}
