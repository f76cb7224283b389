package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends alerts over SMTP.
type Email struct {
	server   string // host:port
	user     string
	password string
	from     string
	to       []string
	send     sendMailFunc
}

func NewEmail(server, user, password, from, to string) *Email {
	var recipients []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	return &Email{
		server:   server,
		user:     user,
		password: password,
		from:     from,
		to:       recipients,
		send:     smtp.SendMail,
	}
}

func (e *Email) Channel() string { return "email" }

func (e *Email) Notify(ctx context.Context, msg Message) error {
	if len(e.to) == 0 {
		return fmt.Errorf("no email recipients configured")
	}
	for _, to := range e.to {
		if !strings.Contains(to, "@") {
			return fmt.Errorf("invalid email address: %s", to)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(formatText(msg), "\n", "\r\n"))

	var auth smtp.Auth
	if e.user != "" {
		host, _, err := net.SplitHostPort(e.server)
		if err != nil {
			host = e.server
		}
		auth = smtp.PlainAuth("", e.user, e.password, host)
	}

	if err := e.send(e.server, auth, e.from, e.to, []byte(b.String())); err != nil {
		return fmt.Errorf("sending email to %s: %w", strings.Join(e.to, ","), err)
	}
	return nil
}
