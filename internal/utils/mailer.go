package utils

import (
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// Mailer delivers one message with an HTML body and a plain-text alternative.
type Mailer interface {
	Send(to, subject, htmlBody, textBody string) error
}

type SMTPClient struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPClient(host string, port int, user, pass, from string) *SMTPClient {
	if port == 0 {
		port = 587
	}
	if from == "" {
		from = user
	}
	return &SMTPClient{
		dialer: gomail.NewDialer(host, port, user, pass),
		from:   from,
	}
}

func (s *SMTPClient) Send(to, subject, htmlBody, textBody string) error {
	if s == nil || s.dialer == nil || s.dialer.Host == "" {
		return fmt.Errorf("smtp not configured")
	}
	if err := s.dialer.DialAndSend(s.message(to, subject, htmlBody, textBody)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func (s *SMTPClient) message(to, subject, htmlBody, textBody string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if textBody != "" {
		m.SetBody("text/plain", textBody)
		m.AddAlternative("text/html", htmlBody)
	} else {
		m.SetBody("text/html", htmlBody)
	}
	return m
}

// LogMailer writes messages to the log instead of sending them. Used when
// SMTP is not configured.
type LogMailer struct {
	Log *slog.Logger
}

func (l LogMailer) Send(to, subject, _, textBody string) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("mail not sent: smtp disabled", "to", to, "subject", subject, "body", textBody)
	return nil
}
