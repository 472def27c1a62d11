// Package notification рассылает клиентам уведомления о заказах по SMS и email.
package notification

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"household-planet/internal/config"
	"household-planet/internal/logger"
)

//go:embed templates/*
var templateFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.txt", "templates/*.sms"))
)

// TemplatePaymentPaid — уведомление об успешной оплате.
const TemplatePaymentPaid = "payment_paid"

// ErrNoRecipient означает, что у клиента нет адреса для этого канала.
var ErrNoRecipient = errors.New("no recipient for channel")

// Message — данные одного уведомления; поля подставляются в шаблоны.
type Message struct {
	Template     string
	Subject      string
	OrderNumber  string
	CustomerName string
	Phone        string
	Email        string
	Amount       string
	Reference    string
}

// Channel доставляет сообщение одним способом (SMS, email).
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Channels собирает каналы, для которых заданы настройки.
func Channels(cfg *config.NotificationConfig, log *logger.Logger) []Channel {
	var channels []Channel
	if cfg.SMSGatewayURL != "" && cfg.SMSAPIKey != "" {
		channels = append(channels, NewSMSChannel(cfg))
	} else {
		log.Warn("SMS gateway is not configured, SMS notifications disabled")
	}
	if cfg.SMTPHost != "" && cfg.SMTPFrom != "" {
		channels = append(channels, NewEmailChannel(cfg))
	} else {
		log.Warn("SMTP is not configured, email notifications disabled")
	}
	return channels
}

func renderText(name string, msg Message) (string, error) {
	var buf bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&buf, name, msg); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func renderHTML(name string, msg Message) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&buf, name, msg); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
