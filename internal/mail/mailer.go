package mail

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"mootbot/internal/config"
)

// Mailer sends verification emails. The interface exists so the
// registration flow can be tested without an SMTP server.
type Mailer interface {
	SendVerification(to, code string) error
}

// SMTPMailer sends mail over authenticated SMTP (STARTTLS on the usual
// submission port).
type SMTPMailer struct {
	host     string
	port     int
	from     string
	password string
	logger   *slog.Logger

	// send is swappable in tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg config.SMTPConfig, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{
		host:     cfg.Host,
		port:     cfg.Port,
		from:     cfg.From,
		password: cfg.Password,
		logger:   logger,
		send:     smtp.SendMail,
	}
}

const verificationSubject = "Your Verification Code"

// SendVerification emails the 6-digit code to the given address.
func (m *SMTPMailer) SendVerification(to, code string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", verificationSubject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(verificationBody(code))

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	auth := smtp.PlainAuth("", m.from, m.password, m.host)
	if err := m.send(addr, auth, m.from, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}

	m.logger.Info("verification email sent", "to", to)
	return nil
}

// verificationBody renders the HTML body with the code inlined.
func verificationBody(code string) string {
	return strings.Replace(verificationTemplate, "{{code}}", code, 1)
}

const verificationTemplate = `<!DOCTYPE html>
<html>
<body style="font-family:Arial,sans-serif;background:#f4f4f4;margin:0;padding:24px;">
<div style="max-width:480px;margin:0 auto;background:#ffffff;border-radius:8px;padding:24px;">
<h2 style="color:#333;">Email Verification</h2>
<p style="color:#555;">Use this code to finish registering your account:</p>
<p style="font-size:28px;letter-spacing:6px;font-weight:bold;color:#2b6cb0;text-align:center;">{{code}}</p>
<p style="color:#999;font-size:12px;">If you did not request this code, you can ignore this message.</p>
</div>
</body>
</html>`
