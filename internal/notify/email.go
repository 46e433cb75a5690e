package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/ErlanBelekov/keepwarm/internal/email"
)

// EmailSink mails alerts (transitions into Error) to one address.
type EmailSink struct {
	sender email.Sender
	to     string
}

func NewEmailSink(sender email.Sender, to string) *EmailSink {
	return &EmailSink{sender: sender, to: to}
}

func (s *EmailSink) Name() string { return "email" }

// Accepts lets through alerts only.
func (s *EmailSink) Accepts(evt domain.Event) bool { return evt.Alert }

func (s *EmailSink) Publish(ctx context.Context, evt domain.Event) error {
	if !s.Accepts(evt) {
		return nil
	}
	subject := fmt.Sprintf("[keepwarm] %s entered error state", evt.ModelID)

	lines := strings.Split(Body(evt), "\n")
	for i, line := range lines {
		lines[i] = plain(line)
	}

	var b strings.Builder
	b.WriteString("<h2>")
	b.WriteString(html.EscapeString(Title(evt)))
	b.WriteString("</h2><p>")
	for i, line := range lines {
		if i > 0 {
			b.WriteString("<br>")
		}
		b.WriteString(html.EscapeString(line))
	}
	b.WriteString("</p>")

	msg := email.Message{
		To:      s.to,
		Subject: subject,
		HTML:    b.String(),
		Text:    Title(evt) + "\n\n" + strings.Join(lines, "\n"),
		Tag:     "alert",
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("email alert: %w", err)
	}
	return nil
}
