package notify

import (
	"context"
	"time"
)

// Notifier delivers service state alerts to external systems.
// Delivery is best effort: callers log errors and carry on.
type Notifier interface {
	NotifyDown(ctx context.Context, service string, port int, reason string) error
	NotifyRestored(ctx context.Context, service string) error
}

// Kind identifies the alert being delivered.
type Kind string

const (
	KindDown     Kind = "down"
	KindRestored Kind = "restored"
	KindTest     Kind = "test"
)

// Event is the payload shared by all notifier backends.
type Event struct {
	Kind       Kind      `json:"kind"`
	Service    string    `json:"service"`
	Port       int       `json:"port,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Host       string    `json:"host,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Severity maps an event kind to an alert severity label.
func (e Event) Severity() string {
	switch e.Kind {
	case KindDown:
		return "ERROR"
	case KindRestored:
		return "SUCCESS"
	default:
		return "INFO"
	}
}

// Title returns the short human-readable headline for the event.
func (e Event) Title() string {
	switch e.Kind {
	case KindDown:
		return e.Service + " Service Down"
	case KindRestored:
		return e.Service + " Service Restored"
	default:
		return "Notification Test"
	}
}

func downEvent(host, service string, port int, reason string) Event {
	return Event{
		Kind:       KindDown,
		Service:    service,
		Port:       port,
		Reason:     reason,
		Host:       host,
		OccurredAt: time.Now().UTC(),
	}
}

func restoredEvent(host, service string) Event {
	return Event{
		Kind:       KindRestored,
		Service:    service,
		Host:       host,
		OccurredAt: time.Now().UTC(),
	}
}

// Tester is implemented by notifiers able to send a connectivity check message.
type Tester interface {
	NotifyTest(ctx context.Context) error
}
