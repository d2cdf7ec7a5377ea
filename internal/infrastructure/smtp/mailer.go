package smtp

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/go-otp-nosql/internal/config"
)

// Mailer sends multipart text/HTML emails over SMTP. The whole exchange is
// bound to the caller's context deadline.
type Mailer struct {
	addr     string
	host     string
	from     string
	username string
	password string
	dialer   net.Dialer
}

func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{
		addr:     net.JoinHostPort(cfg.SMTPHost, cfg.SMTPPort),
		host:     cfg.SMTPHost,
		from:     cfg.MailFrom,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
	}
}

func (m *Mailer) SendEmail(ctx context.Context, to, subject, textBody, htmlBody string) error {
	err := m.send(ctx, to, buildMessage(m.from, to, subject, textBody, htmlBody, time.Now()))
	if err == nil {
		return nil
	}
	if ctxErr := contextErr(ctx); ctxErr != nil {
		return fmt.Errorf("smtp send to %s: %w", m.addr, ctxErr)
	}
	return fmt.Errorf("smtp send to %s: %w", m.addr, err)
}

// contextErr also reports a passed deadline whose timer has not fired yet,
// since the connection deadline can trip first.
func contextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

func (m *Mailer) send(ctx context.Context, to string, msg []byte) error {
	conn, err := m.dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return err
		}
	}
	if m.username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.username, m.password, m.host)); err != nil {
			return err
		}
	}
	if err := c.Mail(m.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from, to, subject, textBody, htmlBody string, date time.Time) []byte {
	boundary := multipartBoundary()
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&sb, "Date: %s\r\n", date.Format(time.RFC1123Z))
	sb.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&sb, "Content-Type: multipart/alternative; boundary=%s\r\n", boundary)
	sb.WriteString("\r\n")
	fmt.Fprintf(&sb, "--%s\r\n", boundary)
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	sb.WriteString(textBody)
	sb.WriteString("\r\n")
	fmt.Fprintf(&sb, "--%s\r\n", boundary)
	sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	sb.WriteString(htmlBody)
	sb.WriteString("\r\n")
	fmt.Fprintf(&sb, "--%s--\r\n", boundary)
	return []byte(sb.String())
}

func multipartBoundary() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "otp-boundary-fallback"
	}
	return "otp-boundary-" + hex.EncodeToString(b[:])
}
