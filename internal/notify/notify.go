// Package notify delivers failure alerts to humans.
package notify

import (
	"context"
	"log/slog"

	"basegraph.app/warden/core/config"
)

// Message is one alert.
type Message struct {
	Subject string
	Text    string
	Fields  map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
	// Channel names the delivery channel: slack, email or log.
	Channel() string
}

// New picks the channel from configuration: Slack when a webhook URL is set,
// then email, then a warning log line.
func New(cfg config.NotifyConfig) Notifier {
	switch {
	case cfg.SlackEnabled():
		return NewSlack(cfg.SlackWebhookURL)
	case cfg.EmailEnabled():
		return NewEmail(cfg.SMTPServer, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom, cfg.Email)
	default:
		return LogNotifier{}
	}
}

// LogNotifier is the fallback when no channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, msg Message) error {
	attrs := []any{"subject", msg.Subject}
	for k, v := range msg.Fields {
		attrs = append(attrs, k, v)
	}
	slog.WarnContext(ctx, "no notification channel configured", attrs...)
	return nil
}

func (LogNotifier) Channel() string { return "log" }
