package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// DryRunNotifier logs alerts without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// NotifyDown implements Notifier.
func (n *DryRunNotifier) NotifyDown(_ context.Context, service string, port int, reason string) error {
	n.logger.Info().
		Str("service", service).
		Int("port", port).
		Str("reason", reason).
		Str("kind", string(KindDown)).
		Msg("[DRY-RUN] Would notify")
	return nil
}

// NotifyRestored implements Notifier.
func (n *DryRunNotifier) NotifyRestored(_ context.Context, service string) error {
	n.logger.Info().
		Str("service", service).
		Str("kind", string(KindRestored)).
		Msg("[DRY-RUN] Would notify")
	return nil
}

// NotifyTest implements Tester.
func (n *DryRunNotifier) NotifyTest(context.Context) error {
	n.logger.Info().
		Str("kind", string(KindTest)).
		Msg("[DRY-RUN] Would send test notification")
	return nil
}
