// Package mailer sends transactional plain-text email.
package mailer

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// Message is a single outbound plain-text email.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Sender delivers messages. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers mail over SMTP with STARTTLS.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

var _ Sender = (*SMTPSender)(nil)

// NewSMTPSender builds a sender for the given SMTP endpoint.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("no recipients")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// NopSender discards all mail. Used in development when SMTP is not configured.
type NopSender struct{}

func (NopSender) Send(context.Context, Message) error { return nil }
