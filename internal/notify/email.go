package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/metrics"
)

const sendTimeout = 30 * time.Second

// Message is a rendered email.
type Message struct {
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a rendered email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var bodyTemplate = template.Must(template.New("error").Parse(`<html>
<body>
<h2>{{.Type}}</h2>
<p>{{.Message}}</p>
{{- if .Traceback}}
<pre>{{.Traceback}}</pre>
{{- end}}
{{- if .Screenshot}}
<img src="{{.Screenshot}}" alt="screenshot"/>
{{- end}}
</body>
</html>
`))

type bodyData struct {
	Type       string
	Message    string
	Traceback  string
	Screenshot template.URL
}

// EmailNotifier sends the error record, and a screenshot when a capturer is
// configured, by email.
type EmailNotifier struct {
	sender   Sender
	capturer Capturer
	from     string
	to       []string
	log      *slog.Logger
}

// NewEmailNotifier creates an email notifier. capturer may be nil.
func NewEmailNotifier(sender Sender, capturer Capturer, from string, to []string) *EmailNotifier {
	return &EmailNotifier{
		sender:   sender,
		capturer: capturer,
		from:     from,
		to:       to,
		log:      slog.Default().With("component", "notify"),
	}
}

// Notify implements Notifier.
func (n *EmailNotifier) Notify(ctx context.Context, rec domain.ErrorRecord, processName string) {
	msg, err := n.Render(ctx, rec, processName)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		n.log.Warn("Failed to render notification", "process", processName, "error", err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := n.sender.Send(sendCtx, msg); err != nil {
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		n.log.Warn("Failed to send notification", "process", processName, "to", n.to, "error", err)
		return
	}
	metrics.NotificationsSent.WithLabelValues("sent").Inc()
	n.log.Info("Notification sent", "process", processName, "to", n.to)
}

// Render builds the email for rec.
func (n *EmailNotifier) Render(ctx context.Context, rec domain.ErrorRecord, processName string) (Message, error) {
	data := bodyData{
		Type:      rec.Type,
		Message:   rec.Message,
		Traceback: rec.Traceback,
	}
	if n.capturer != nil {
		png, err := n.capturer.Capture(ctx)
		if err != nil {
			n.log.Warn("Screenshot capture failed, sending without image", "error", err)
		} else if len(png) > 0 {
			data.Screenshot = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
		}
	}

	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}

	return Message{
		From:    n.from,
		To:      n.to,
		Subject: "Error screenshot: " + processName,
		Text:    fmt.Sprintf("%s: %s\n\n%s", rec.Type, rec.Message, rec.Traceback),
		HTML:    buf.String(),
	}, nil
}
