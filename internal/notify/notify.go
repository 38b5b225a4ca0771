// Package notify delivers fire-and-forget messages to a webhook. Delivery
// failures are logged and swallowed; nothing here may fail a cycle.
package notify

import (
	"context"
	"os"
	"time"

	"trading-assistant/internal/api"
	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/logger"
)

var _ interfaces.Notifier = (*Webhook)(nil)
var _ interfaces.Notifier = Noop{}

// Webhook posts JSON messages to the URL in ASSISTANT_WEBHOOK_URL.
type Webhook struct {
	client  *api.Client
	url     string
	channel string
}

// NewWebhook builds the sink. A missing URL yields a disabled sink that
// drops messages silently.
func NewWebhook(channel string) *Webhook {
	return &Webhook{
		client: api.NewClient(
			api.WithTimeout(10 * time.Second),
			api.WithLogging(logger.IsDebugEnabled()),
		),
		url:     os.Getenv("ASSISTANT_WEBHOOK_URL"),
		channel: channel,
	}
}

type payload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// Notify posts the message. Never blocks the caller beyond the bounded
// timeout and never returns an error.
func (w *Webhook) Notify(ctx context.Context, message string) {
	if w.url == "" {
		return
	}
	if _, err := w.client.POST(ctx, w.url, payload{Channel: w.channel, Text: message}); err != nil {
		logger.Warn(ctx, "Notification delivery failed", "error", err)
	}
}

// Noop drops every message.
type Noop struct{}

func (Noop) Notify(ctx context.Context, message string) {}
