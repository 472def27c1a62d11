package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"household-planet/internal/config"
)

// SMSChannel отправляет SMS через HTTP-шлюз в формате Africa's Talking.
type SMSChannel struct {
	url      string
	apiKey   string
	username string
	senderID string
	client   *http.Client
}

type smsResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			StatusCode int    `json:"statusCode"`
			Number     string `json:"number"`
			Status     string `json:"status"`
			MessageID  string `json:"messageId"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// NewSMSChannel создает SMS-канал.
func NewSMSChannel(cfg *config.NotificationConfig) *SMSChannel {
	return &SMSChannel{
		url:      cfg.SMSGatewayURL,
		apiKey:   cfg.SMSAPIKey,
		username: cfg.SMSUsername,
		senderID: cfg.SMSSenderID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Name возвращает имя канала.
func (c *SMSChannel) Name() string { return "sms" }

// Send отправляет SMS на номер клиента (формат 2547XXXXXXXX).
func (c *SMSChannel) Send(ctx context.Context, msg Message) error {
	if msg.Phone == "" {
		return ErrNoRecipient
	}

	text, err := renderText(msg.Template+".sms", msg)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("to", "+"+strings.TrimPrefix(msg.Phone, "+"))
	form.Set("message", text)
	if c.senderID != "" {
		form.Set("from", c.senderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("apiKey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err != nil {
		return fmt.Errorf("read sms response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed smsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode sms response: %w", err)
	}
	if len(parsed.SMSMessageData.Recipients) == 0 {
		return fmt.Errorf("sms gateway accepted no recipients: %s", parsed.SMSMessageData.Message)
	}
	// 100 Processed, 101 Sent, 102 Queued
	if r := parsed.SMSMessageData.Recipients[0]; r.StatusCode < 100 || r.StatusCode > 102 {
		return fmt.Errorf("sms to %s rejected: %s", r.Number, r.Status)
	}
	return nil
}
