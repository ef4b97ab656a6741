package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender sends plain-text mail over SMTP with STARTTLS. The first line of
// the text becomes the subject.
type EmailSender struct {
	Config SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSender(cfg SMTPConfig) *EmailSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &EmailSender{Config: cfg, send: smtp.SendMail}
}

func (e *EmailSender) Send(ctx context.Context, recipient string, text string) error {
	if recipient == "" {
		return fmt.Errorf("missing recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, body := splitSubject(text)
	msg := buildMessage(e.Config.From, recipient, subject, body, time.Now())

	addr := net.JoinHostPort(e.Config.Host, strconv.Itoa(e.Config.Port))
	var auth smtp.Auth
	if e.Config.Username != "" {
		auth = smtp.PlainAuth("", e.Config.Username, e.Config.Password, e.Config.Host)
	}
	return e.send(addr, auth, e.Config.From, []string{recipient}, msg)
}

func splitSubject(text string) (string, string) {
	text = strings.TrimSpace(text)
	subject, body, found := strings.Cut(text, "\n")
	subject = strings.Trim(strings.TrimSpace(subject), "*")
	if !found {
		return subject, text
	}
	return subject, strings.TrimSpace(body)
}

func buildMessage(from, to, subject, body string, date time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: " + date.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
