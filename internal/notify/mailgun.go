package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailgun/mailgun-go/v4"
)

// MailgunConfig holds the Mailgun API settings.
type MailgunConfig struct {
	Domain  string `yaml:"domain"`
	APIKey  string `yaml:"api_key"`
	APIBase string `yaml:"api_base"`
}

// MailgunSender delivers mail through the Mailgun HTTP API.
type MailgunSender struct {
	client *mailgun.MailgunImpl
}

// NewMailgunSender creates a Mailgun sender.
func NewMailgunSender(cfg MailgunConfig) *MailgunSender {
	client := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.APIBase != "" {
		client.SetAPIBase(cfg.APIBase)
	}
	return &MailgunSender{client: client}
}

// Send implements Sender.
func (s *MailgunSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("mailgun: no recipients")
	}
	message := s.client.NewMessage(msg.From, msg.Subject, msg.Text, msg.To...)
	if msg.HTML != "" {
		message.SetHtml(msg.HTML)
	}

	_, id, err := s.client.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	slog.Debug("Mailgun accepted message", "message_id", id)
	return nil
}
