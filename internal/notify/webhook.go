package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"kind":"{{ .Kind }}","severity":"{{ .Severity }}","service":{{ toJson .Service }},"port":{{ .Port }},"reason":{{ toJson .Reason }},"host":{{ toJson .Host }},"occurred_at":"{{ .OccurredAt.Format "2006-01-02T15:04:05Z07:00" }}"}`

// WebhookNotifier sends alerts to a generic webhook, rendering the body from a template.
type WebhookNotifier struct {
	logger   zerolog.Logger
	host     string
	template *template.Template
	poster   *httpPoster
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// The template receives an Event. An empty URL yields a nil notifier.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL, tmpl, host string) (*WebhookNotifier, error) {
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
		host:     host,
		template: parsed,
		poster:   newHTTPPoster(logger, "webhook", webhookURL, "application/json", defaultTiming),
	}, nil
}

// NotifyDown implements Notifier.
func (n *WebhookNotifier) NotifyDown(ctx context.Context, service string, port int, reason string) error {
	if n == nil {
		return nil
	}
	return n.send(ctx, downEvent(n.host, service, port, reason))
}

// NotifyRestored implements Notifier.
func (n *WebhookNotifier) NotifyRestored(ctx context.Context, service string) error {
	if n == nil {
		return nil
	}
	return n.send(ctx, restoredEvent(n.host, service))
}

func (n *WebhookNotifier) send(ctx context.Context, event Event) error {
	var buf bytes.Buffer
	if err := n.template.Execute(&buf, event); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}

	if err := n.poster.deliver(ctx, event.Service, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("service", event.Service).
		Str("kind", string(event.Kind)).
		Msg("webhook notification sent")

	return nil
}
