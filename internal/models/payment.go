package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentProvider — платёжный провайдер.
type PaymentProvider string

const (
	PaymentProviderMpesa PaymentProvider = "MPESA"
	PaymentProviderCard  PaymentProvider = "CARD"
	PaymentProviderCash  PaymentProvider = "CASH_ON_DELIVERY"
)

// ProviderFor возвращает провайдера, через которого проходит выбранный способ оплаты.
func ProviderFor(method PaymentMethod) PaymentProvider {
	switch method {
	case PaymentMethodMpesa:
		return PaymentProviderMpesa
	case PaymentMethodCard:
		return PaymentProviderCard
	default:
		return PaymentProviderCash
	}
}

// Payment — попытка оплаты заказа через провайдера.
type Payment struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	OrderID           uuid.UUID       `json:"order_id" db:"order_id"`
	Provider          PaymentProvider `json:"provider" db:"provider"`
	Status            PaymentStatus   `json:"status" db:"status"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	Phone             *string         `json:"phone,omitempty" db:"phone"`
	CheckoutRequestID *string         `json:"checkout_request_id,omitempty" db:"checkout_request_id"`
	ProviderTxID      *string         `json:"provider_tx_id,omitempty" db:"provider_tx_id"`
	FailureReason     *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// PaymentResult — нормализованный итог оплаты от любого провайдера.
type PaymentResult struct {
	Provider          PaymentProvider
	CheckoutRequestID string // M-Pesa
	OrderNumber       string // карта: tx_ref
	ProviderTxID      string
	Amount            decimal.Decimal
	Success           bool
	FailureReason     string
}

// InitiateMpesaRequest — запрос на STK push.
type InitiateMpesaRequest struct {
	Phone string `json:"phone"`
}

// InitiateMpesaResponse — ответ клиенту после отправки STK push.
type InitiateMpesaResponse struct {
	PaymentID         uuid.UUID `json:"payment_id"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	CustomerMessage   string    `json:"customer_message"`
}

// MpesaCallback — тело вебхука Daraja STK push.
type MpesaCallback struct {
	Body struct {
		StkCallback MpesaStkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// MpesaStkCallback содержит результат STK push.
type MpesaStkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []MpesaMetadataItem `json:"Item"`
	} `json:"CallbackMetadata,omitempty"`
}

// MpesaMetadataItem — элемент метаданных (Amount, MpesaReceiptNumber, PhoneNumber...).
type MpesaMetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// Metadata возвращает сырое значение элемента метаданных по имени.
func (c *MpesaStkCallback) Metadata(name string) (json.RawMessage, bool) {
	if c.CallbackMetadata == nil {
		return nil, false
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name == name {
			return item.Value, true
		}
	}
	return nil, false
}

// CardCallback — вебхук карточного провайдера (формат Flutterwave).
type CardCallback struct {
	Event string           `json:"event"`
	Data  CardCallbackData `json:"data"`
}

// CardCallbackData — данные транзакции из карточного вебхука.
type CardCallbackData struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	FlwRef   string          `json:"flw_ref"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
}

// MpesaCallbackAck — ответ, которого ожидает Daraja.
type MpesaCallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}
