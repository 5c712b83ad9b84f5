package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultTelegramAPIURL = "https://api.telegram.org"

var severityEmoji = map[string]string{
	"INFO":    "ℹ️",
	"WARNING": "⚠️",
	"ERROR":   "❌",
	"SUCCESS": "✅",
}

// TelegramNotifier sends alerts through the Telegram Bot API.
type TelegramNotifier struct {
	logger  zerolog.Logger
	chatID  string
	host    string
	apiURL  string
	timing  timingConfig
	poster  *httpPoster
	nowFunc func() time.Time
}

// TelegramOption customizes TelegramNotifier behavior.
type TelegramOption func(*TelegramNotifier)

// WithTelegramAPIURL points the notifier at a different Bot API base URL.
func WithTelegramAPIURL(apiURL string) TelegramOption {
	return func(n *TelegramNotifier) {
		n.apiURL = strings.TrimRight(apiURL, "/")
	}
}

// WithTelegramHost adds the relay host name to every alert.
func WithTelegramHost(host string) TelegramOption {
	return func(n *TelegramNotifier) {
		n.host = host
	}
}

// WithTelegramTiming overrides timing parameters (primarily for testing).
func WithTelegramTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) TelegramOption {
	return func(n *TelegramNotifier) {
		n.timing.rateInterval = rateInterval
		n.timing.rateBurst = rateBurst
		n.timing.backoffInitial = backoffInitial
		n.timing.backoffMax = backoffMax
		n.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewTelegramNotifier creates a Telegram notifier, or a noop notifier unless
// both the bot token and the chat id are set.
func NewTelegramNotifier(logger zerolog.Logger, botToken, chatID string, opts ...TelegramOption) Notifier {
	if botToken == "" || chatID == "" {
		return NewNoop(logger, "telegram bot token or chat id not configured; telegram alerts disabled")
	}

	n := &TelegramNotifier{
		logger:  logger,
		chatID:  chatID,
		apiURL:  defaultTelegramAPIURL,
		timing:  defaultTiming,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiURL, botToken)
	n.poster = newHTTPPoster(logger, "telegram", endpoint, "application/json", n.timing)
	return n
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// NotifyDown implements Notifier.
func (n *TelegramNotifier) NotifyDown(ctx context.Context, service string, port int, reason string) error {
	return n.send(ctx, downEvent(n.host, service, port, reason))
}

// NotifyRestored implements Notifier.
func (n *TelegramNotifier) NotifyRestored(ctx context.Context, service string) error {
	return n.send(ctx, restoredEvent(n.host, service))
}

// NotifyTest implements Tester.
func (n *TelegramNotifier) NotifyTest(ctx context.Context) error {
	msg := telegramMessage{
		ChatID:    n.chatID,
		Text:      "✅ Telegram notification system connected!",
		ParseMode: "Markdown",
	}
	return n.poster.deliverJSON(ctx, string(KindTest), msg)
}

func (n *TelegramNotifier) send(ctx context.Context, event Event) error {
	msg := telegramMessage{
		ChatID:    n.chatID,
		Text:      formatTelegramAlert(event, n.nowFunc()),
		ParseMode: "Markdown",
	}
	if err := n.poster.deliverJSON(ctx, event.Service, msg); err != nil {
		return err
	}

	n.logger.Debug().
		Str("service", event.Service).
		Str("kind", string(event.Kind)).
		Msg("telegram notification sent")
	return nil
}

// markdownEscaper escapes the entity markers of Telegram's legacy Markdown so
// names like ss_fallback cannot unbalance the message.
var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"`", "\\`",
	"[", "\\[",
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func formatTelegramAlert(event Event, now time.Time) string {
	emoji, ok := severityEmoji[event.Severity()]
	if !ok {
		emoji = "📢"
	}

	var details string
	switch event.Kind {
	case KindDown:
		details = fmt.Sprintf("Service on port %d is not responding.\nAttempting restart...", event.Port)
		if event.Reason != "" {
			details += "\nReason: " + escapeMarkdown(event.Reason)
		}
	case KindRestored:
		details = fmt.Sprintf("%s is now running normally.", escapeMarkdown(event.Service))
	}
	if event.Host != "" {
		details += "\nHost: " + escapeMarkdown(event.Host)
	}

	return fmt.Sprintf("%s *%s: %s*\n\n%s\n\n_Time: %s_",
		emoji, event.Severity(), escapeMarkdown(event.Title()), details, now.Format("2006-01-02 15:04:05"))
}
