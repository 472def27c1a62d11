package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType представляет тип события в шине
type EventType string

const (
	EventTypeOrderCreated           EventType = "order.created"
	EventTypeOrderStatusChanged     EventType = "order.status_changed"
	EventTypePaymentStatusChanged   EventType = "payment.status_changed"
	EventTypePromoRedeemed          EventType = "promo.redeemed"
	EventTypeNotificationDispatched EventType = "notification.dispatched"
)

// Event представляет событие Kafka
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent упаковывает данные события.
func NewEvent(eventType EventType, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Decode распаковывает данные события в dest.
func (e *Event) Decode(dest interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.ID)
	}
	if err := json.Unmarshal(e.Data, dest); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// OrderCreatedData представляет данные события создания заказа
type OrderCreatedData struct {
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	CustomerEmail *string         `json:"customer_email,omitempty"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
}

// OrderStatusChangedData представляет данные события изменения статуса заказа
type OrderStatusChangedData struct {
	OrderID     uuid.UUID   `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	OldStatus   OrderStatus `json:"old_status"`
	NewStatus   OrderStatus `json:"new_status"`
	Notes       *string     `json:"notes,omitempty"`
}

// PaymentStatusChangedData — данные события смены статуса оплаты.
type PaymentStatusChangedData struct {
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	Provider      PaymentProvider `json:"provider"`
	OldStatus     PaymentStatus   `json:"old_status"`
	NewStatus     PaymentStatus   `json:"new_status"`
	Amount        decimal.Decimal `json:"amount"`
	ProviderTxID  string          `json:"provider_tx_id,omitempty"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	CustomerEmail *string         `json:"customer_email,omitempty"`
}

// PromoRedeemedData — данные события погашения промокода.
type PromoRedeemedData struct {
	PromoCode      string          `json:"promo_code"`
	OrderID        uuid.UUID       `json:"order_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

// NotificationDispatchedData — итог рассылки уведомлений по заказу.
type NotificationDispatchedData struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Trigger     EventType `json:"trigger"`
	Channels    []string  `json:"channels"`
	Failed      []string  `json:"failed,omitempty"`
}
