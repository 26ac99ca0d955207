package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// SMTPMailer delivers through a plain SMTP relay.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func newSMTPMailer(config map[string]string) (Mailer, error) {
	host := config["host"]
	if host == "" {
		return nil, errors.New("host is required")
	}
	port := config["port"]
	if port == "" {
		port = "25"
	}
	from := config["from"]
	if from == "" {
		return nil, errors.New("from is required")
	}
	m := &SMTPMailer{addr: net.JoinHostPort(host, port), from: from, send: smtp.SendMail}
	if user := config["user"]; user != "" {
		m.auth = smtp.PlainAuth("", user, config["password"], host)
	}
	return m, nil
}

// Send delivers msg. The context is only checked before dialing.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return errors.New("mailer: header injection")
	}
	if err := m.send(m.addr, m.auth, m.from, []string{msg.To}, m.render(msg)); err != nil {
		return fmt.Errorf("mailer: smtp send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) render(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	if msg.Lang != "" {
		fmt.Fprintf(&b, "Content-Language: %s\r\n", msg.Lang)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}
