// Package notification delivers trading alerts (closed trades, breaker
// trips, flatten failures) to external channels. Delivery is best-effort;
// a dead channel never blocks the engine loop.
package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one notification.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier delivers alerts to one backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// Config selects and configures the enabled backends. The Telegram bot
// token comes from the environment, not the YAML file.
type Config struct {
	TelegramChatID string `yaml:"telegram_chat_id"`
	TelegramToken  string `yaml:"-"`
	WebhookURL     string `yaml:"webhook_url"`
}

// Multi fans an alert out to every configured backend and logs failures.
type Multi struct {
	backends []Notifier
	log      zerolog.Logger
}

// NewMulti builds the fan-out notifier from cfg. With no backends
// configured every alert still lands in the log.
func NewMulti(cfg Config, log zerolog.Logger) *Multi {
	m := &Multi{log: log.With().Str("component", "notify").Logger()}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		m.backends = append(m.backends, NewTelegram(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		m.backends = append(m.backends, NewWebhook(cfg.WebhookURL))
	}
	return m
}

// Send delivers to all backends. Errors are logged, never returned; the
// caller has nothing useful to do with a failed alert.
func (m *Multi) Send(ctx context.Context, alert Alert) {
	ev := m.log.Info()
	if alert.Level != AlertInfo {
		ev = m.log.Warn()
	}
	ev.Str("level", string(alert.Level)).Str("title", alert.Title).Msg(alert.Message)

	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil {
			m.log.Warn().Err(err).Str("title", alert.Title).Msg("alert delivery failed")
		}
	}
}
