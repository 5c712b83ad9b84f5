package notify

import (
	"context"
)

// MultiNotifier fans out notifications to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that dispatches to all provided notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier == nil {
			continue
		}
		filtered = append(filtered, notifier)
	}
	return &MultiNotifier{notifiers: filtered}
}

// Len reports how many notifiers are attached.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// NotifyDown implements Notifier.
func (m *MultiNotifier) NotifyDown(ctx context.Context, service string, port int, reason string) error {
	return m.each(func(n Notifier) error {
		return n.NotifyDown(ctx, service, port, reason)
	})
}

// NotifyRestored implements Notifier.
func (m *MultiNotifier) NotifyRestored(ctx context.Context, service string) error {
	return m.each(func(n Notifier) error {
		return n.NotifyRestored(ctx, service)
	})
}

// NotifyTest sends a test message through every notifier that supports it.
func (m *MultiNotifier) NotifyTest(ctx context.Context) error {
	return m.each(func(n Notifier) error {
		tester, ok := n.(Tester)
		if !ok {
			return nil
		}
		return tester.NotifyTest(ctx)
	})
}

func (m *MultiNotifier) each(fn func(Notifier) error) error {
	var firstErr error
	for _, notifier := range m.notifiers {
		if notifier == nil {
			continue
		}
		if err := fn(notifier); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
