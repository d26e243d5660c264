// Package mailer delivers one-time tokens out of band. Delivery is a
// collaborator of the auth core, not part of it: callers treat failures as
// non-fatal and never reveal them to the requester.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

type Mailer interface {
	SendPasswordReset(ctx context.Context, to string, token string) error
	SendEmailVerification(ctx context.Context, to string, token string) error
}

// LogMailer writes the would-be email to the log. Default in development.
type LogMailer struct{}

func (LogMailer) SendPasswordReset(_ context.Context, to string, token string) error {
	slog.Info("password reset email (log mailer)", "to", to, "token", token)
	return nil
}

func (LogMailer) SendEmailVerification(_ context.Context, to string, token string) error {
	slog.Info("verification email (log mailer)", "to", to, "token", token)
	return nil
}

// SMTPMailer sends plain-text mail through a relay. No third-party mail
// library is pulled in; net/smtp covers the single-relay case.
type SMTPMailer struct {
	addr      string
	from      string
	publicURL string
}

func NewSMTPMailer(addr string, from string, publicURL string) *SMTPMailer {
	return &SMTPMailer{addr: addr, from: from, publicURL: strings.TrimRight(publicURL, "/")}
}

func (m *SMTPMailer) SendPasswordReset(_ context.Context, to string, token string) error {
	body := fmt.Sprintf(
		"A password reset was requested for your account.\r\n\r\n"+
			"Reset link: %s/reset-password?token=%s\r\n\r\n"+
			"The link expires in 24 hours. If you did not request this, ignore this email.\r\n",
		m.publicURL, token)
	return m.send(to, "Password reset", body)
}

func (m *SMTPMailer) SendEmailVerification(_ context.Context, to string, token string) error {
	body := fmt.Sprintf(
		"Welcome! Confirm your email address.\r\n\r\n"+
			"Verification link: %s/verify-email?token=%s\r\n",
		m.publicURL, token)
	return m.send(to, "Confirm your email", body)
}

func (m *SMTPMailer) send(to string, subject string, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.from, to, subject, body)
	if err := smtp.SendMail(m.addr, nil, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail via %s: %w", m.addr, err)
	}
	return nil
}
