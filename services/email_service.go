package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"houseparty-server/utils/logger"
)

// Mailer delivers a single message. Callers treat failures as non-fatal.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer sends plain-text mail through an SMTP relay, upgrading to TLS
// when the server offers it.
type SMTPMailer struct {
	host     string
	port     int
	user     string
	password string
	from     string
}

func NewSMTPMailer(host string, port int, user, password, from string) *SMTPMailer {
	return &SMTPMailer{host: host, port: port, user: user, password: password, from: from}
}

func (m *SMTPMailer) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(m.port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if m.user != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.user),
			mail.WithPassword(m.password),
		)
	}
	return mail.NewClient(m.host, opts...)
}

// headerSafe flattens line breaks so a value stays inside its header.
func headerSafe(v string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, v)
}

// newMessage builds the message. Header values are MIME-encoded by go-mail.
func newMessage(from, to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(headerSafe(subject))
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg, err := newMessage(m.from, to, subject, body)
	if err != nil {
		return err
	}
	c, err := m.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them. Used when
// SMTP is not configured so codes remain reachable during development.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, to, subject, body string) error {
	logger.FromContext(ctx).WithField("to", to).WithField("subject", subject).Info(body)
	return nil
}

const (
	otpEmailSubject    = "House Party - Email Verification Code"
	resetEmailSubject  = "House Party - Password Reset Code"
	inviteEmailSubject = "House Party - %s invited you to a party!"
)

func otpEmailBody(code string, validMinutes int) string {
	return fmt.Sprintf("Hello,\n\nThank you for registering with House Party! Your verification code is:\n\n    %s\n\nThis code will expire in %d minutes.\nIf you didn't request this code, please ignore this email.\n\nThe House Party Team", code, validMinutes)
}

func resetEmailBody(code string, validMinutes int) string {
	return fmt.Sprintf("Hello,\n\nWe received a request to reset your password. Your reset code is:\n\n    %s\n\nThis code will expire in %d minutes.\nIf you didn't request this code, please ignore this email.\n\nThe House Party Team", code, validMinutes)
}

func inviteEmailBody(sender, party string) string {
	return fmt.Sprintf("Hello,\n\n%s has invited you to join %s on House Party!\nDownload the app and sign up with this email address to join.\n\nThe House Party Team", sender, party)
}
