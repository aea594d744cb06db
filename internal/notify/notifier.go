// Package notify delivers error notifications for failed queue items.
package notify

import (
	"context"
	"log/slog"

	"github.com/vietddude/queuerunner/internal/core/domain"
)

// Notifier reports a process failure. Delivery is best effort: failures are
// logged and never returned to the caller.
type Notifier interface {
	Notify(ctx context.Context, rec domain.ErrorRecord, processName string)
}

// Noop logs the notification and sends nothing.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(ctx context.Context, rec domain.ErrorRecord, processName string) {
	slog.Debug("Notification skipped, no sender configured",
		"process", processName,
		"type", rec.Type,
	)
}

// Config selects and configures the notification channel.
type Config struct {
	Provider          string        `yaml:"provider"` // "", "smtp" or "mailgun"
	From              string        `yaml:"from"`
	To                []string      `yaml:"to"`
	ScreenshotCommand string        `yaml:"screenshot_command"`
	SMTP              SMTPConfig    `yaml:"smtp"`
	Mailgun           MailgunConfig `yaml:"mailgun"`
}

// New builds the notifier described by cfg. An empty provider or an empty
// recipient list yields Noop.
func New(cfg Config) Notifier {
	if cfg.Provider == "" || len(cfg.To) == 0 {
		return Noop{}
	}

	var sender Sender
	switch cfg.Provider {
	case "smtp":
		sender = NewSMTPSender(cfg.SMTP)
	case "mailgun":
		sender = NewMailgunSender(cfg.Mailgun)
	default:
		slog.Warn("Unknown notification provider, notifications disabled", "provider", cfg.Provider)
		return Noop{}
	}

	var capturer Capturer
	if cfg.ScreenshotCommand != "" {
		capturer = &CommandCapturer{Command: cfg.ScreenshotCommand}
	}
	return NewEmailNotifier(sender, capturer, cfg.From, cfg.To)
}
