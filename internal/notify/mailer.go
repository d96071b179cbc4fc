package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/neuroscan-portal/internal/domain"
)

// Subject is the subject line of result notifications
const Subject = "Your NeuroScan AI Portal Result is Ready"

// Message is a rendered e-mail
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Sender delivers messages
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var resultTemplate = template.Must(template.New("result").Parse(`<html>
  <body style="font-family: Arial, sans-serif; text-align: center;">
    <div style="padding: 20px; border: 1px solid #e0e0e0; border-radius: 10px;">
      <h2 style="color: #333;">Hello {{.PatientName}},</h2>
      <p>Your medical result has been processed and is now available on the <b>NeuroScan AI Portal</b>.</p>
      <a href="{{.PortalURL}}" style="display:inline-block;padding:10px 20px;background:#3b82f6;color:white;text-decoration:none;border-radius:8px;">View Result</a>
    </div>
  </body>
</html>
`))

// RenderResult builds the notification for one outbox row
func RenderResult(n Notification, from, portalURL string) (Message, error) {
	var body bytes.Buffer
	err := resultTemplate.Execute(&body, struct {
		PatientName string
		PortalURL   string
	}{n.PatientName, portalURL})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render notification: %w", err)
	}
	return Message{
		From:    from,
		To:      n.Recipient,
		Subject: Subject,
		HTML:    body.String(),
	}, nil
}

// Bytes encodes the message as an RFC 5322 document
func (m Message) Bytes() []byte {
	var b strings.Builder
	b.WriteString("From: " + m.From + "\r\n")
	b.WriteString("To: " + m.To + "\r\n")
	b.WriteString("Subject: " + m.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.HTML, "\n", "\r\n"))
	return []byte(b.String())
}

// SMTPSender sends through an SMTP relay
type SMTPSender struct {
	addr string
	host string
	auth smtp.Auth
}

// NewSMTPSender creates a sender. Empty credentials disable authentication.
func NewSMTPSender(cfg domain.NotifyConfig) *SMTPSender {
	s := &SMTPSender{
		addr: net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		host: cfg.SMTPHost,
	}
	if cfg.SMTPUsername != "" {
		s.auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return s
}

// Send delivers msg. net/smtp has no context support; ctx is only checked
// before dialing.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := smtp.SendMail(s.addr, s.auth, msg.From, []string{msg.To}, msg.Bytes()); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}
