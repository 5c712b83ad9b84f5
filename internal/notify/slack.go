package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// SlackNotifier posts Block Kit alerts to a Slack incoming webhook.
type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	host       string
	timing     timingConfig
	poster     *httpPoster
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

// WithSlackHost adds the relay host name to every message.
func WithSlackHost(host string) SlackOption {
	return func(s *SlackNotifier) {
		s.host = host
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; slack alerts disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// NotifyDown implements Notifier.
func (n *SlackNotifier) NotifyDown(ctx context.Context, service string, port int, reason string) error {
	return n.send(ctx, downEvent(n.host, service, port, reason))
}

// NotifyRestored implements Notifier.
func (n *SlackNotifier) NotifyRestored(ctx context.Context, service string) error {
	return n.send(ctx, restoredEvent(n.host, service))
}

// NotifyTest implements Tester.
func (n *SlackNotifier) NotifyTest(ctx context.Context) error {
	return n.poster.deliverJSON(ctx, string(KindTest), slack.WebhookMessage{
		Text: "Slack notification system connected",
	})
}

func (n *SlackNotifier) send(ctx context.Context, event Event) error {
	if err := n.poster.deliverJSON(ctx, event.Service, buildSlackMessage(event)); err != nil {
		return err
	}

	n.logger.Debug().
		Str("service", event.Service).
		Str("kind", string(event.Kind)).
		Msg("slack notification sent")

	return nil
}

func buildSlackMessage(event Event) slack.WebhookMessage {
	summary := fmt.Sprintf("%s: %s", event.Severity(), event.Title())
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))

	fields := make([]*slack.TextBlockObject, 0, 3)
	if event.Port > 0 {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Port:*\n`%d`", event.Port), false, false))
	}
	if event.Reason != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Reason:*\n"+event.Reason, false, false))
	}
	if event.Host != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Host:*\n`%s`", event.Host), false, false))
	}

	var body string
	switch event.Kind {
	case KindDown:
		body = fmt.Sprintf("*%s* is not responding. Attempting restart...", event.Service)
	case KindRestored:
		body = fmt.Sprintf("*%s* is now running normally.", event.Service)
	default:
		body = event.Title()
	}

	section := slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", body, false, false), fields, nil)

	footer := slack.NewContextBlock("",
		slack.NewTextBlockObject("mrkdwn", "Time: "+event.OccurredAt.Format(time.RFC3339), false, false),
	)

	blockSet := slack.Blocks{BlockSet: []slack.Block{header, section, footer}}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}
