package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// NoopNotifier drops notifications.
type NoopNotifier struct {
	logger zerolog.Logger
	reason string
}

// NewNoop returns a notifier that logs once and does nothing thereafter.
func NewNoop(logger zerolog.Logger, reason string) *NoopNotifier {
	if reason != "" {
		logger.Info().Msg(reason)
	}
	return &NoopNotifier{logger: logger, reason: reason}
}

// NotifyDown implements Notifier.
func (n *NoopNotifier) NotifyDown(context.Context, string, int, string) error {
	return nil
}

// NotifyRestored implements Notifier.
func (n *NoopNotifier) NotifyRestored(context.Context, string) error {
	return nil
}
