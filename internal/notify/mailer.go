// Package notify delivers outbound notifications: contact forwards by email
// and staff alerts through Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrMailDisabled = errors.New("mail delivery is not configured")

type Message struct {
	To      string
	ReplyTo string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// DisabledMailer rejects every message. It is used when no SMTP server is
// configured.
type DisabledMailer struct{}

func (DisabledMailer) Send(context.Context, Message) error {
	return ErrMailDisabled
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends plain-text mail through an SMTP relay.
type SMTPMailer struct {
	addr   string
	from   string
	auth   smtp.Auth
	logger *logrus.Logger
	send   sendFunc
	now    func() time.Time
}

func NewSMTPMailer(host string, port int, username, password, from string, logger *logrus.Logger) *SMTPMailer {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	return &SMTPMailer{
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		from:   from,
		auth:   auth,
		logger: logger,
		send:   smtp.SendMail,
		now:    time.Now,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.ReplyTo, "\r\n") {
		return fmt.Errorf("invalid recipient address")
	}

	if err := m.send(m.addr, m.auth, m.from, []string{msg.To}, m.render(msg)); err != nil {
		m.logger.WithError(err).WithField("to", msg.To).Error("Failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Sent email")
	return nil
}

func (m *SMTPMailer) render(msg Message) []byte {
	var b strings.Builder
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}

	header("From", m.from)
	header("To", msg.To)
	if msg.ReplyTo != "" {
		header("Reply-To", msg.ReplyTo)
	}
	header("Subject", strings.NewReplacer("\r", " ", "\n", " ").Replace(msg.Subject))
	header("Date", m.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}
