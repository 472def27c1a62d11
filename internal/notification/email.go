package notification

import (
	"context"
	"fmt"

	"household-planet/internal/config"

	gomail "gopkg.in/gomail.v2"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailChannel отправляет письма через SMTP.
type EmailChannel struct {
	from   string
	dialer mailDialer
}

// NewEmailChannel создает SMTP-канал. Порт 465 означает неявный TLS.
func NewEmailChannel(cfg *config.NotificationConfig) *EmailChannel {
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	d.SSL = cfg.SMTPPort == 465
	return &EmailChannel{from: cfg.SMTPFrom, dialer: d}
}

// Name возвращает имя канала.
func (c *EmailChannel) Name() string { return "email" }

// Send отправляет письмо с текстовой и HTML-версией.
func (c *EmailChannel) Send(_ context.Context, msg Message) error {
	if msg.Email == "" {
		return ErrNoRecipient
	}

	plain, err := renderText(msg.Template+".txt", msg)
	if err != nil {
		return err
	}
	html, err := renderHTML(msg.Template+".html", msg)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", msg.Email)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", plain)
	m.AddAlternative("text/html", html)

	if err := c.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
