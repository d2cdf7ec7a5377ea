package sendgrid

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/go-otp-nosql/internal/config"
)

const (
	sendEndpoint = "/v3/mail/send"
	defaultHost  = "https://api.sendgrid.com"
)

// Mailer sends emails through the SendGrid v3 mail API.
type Mailer struct {
	apiKey string
	host   string
	from   *mail.Email
}

func NewMailer(cfg *config.Config) *Mailer {
	return newMailer(cfg.SendGridAPIKey, defaultHost, cfg.MailFrom)
}

func newMailer(apiKey, host, from string) *Mailer {
	return &Mailer{apiKey: apiKey, host: host, from: mail.NewEmail("", from)}
}

func (m *Mailer) SendEmail(ctx context.Context, to, subject, textBody, htmlBody string) error {
	msg := mail.NewSingleEmail(m.from, subject, mail.NewEmail("", to), textBody, htmlBody)

	req := sg.GetRequest(m.apiKey, sendEndpoint, m.host)
	req.Method = rest.Post
	client := &sg.Client{Request: req}

	resp, err := client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
