package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_Terminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped} {
		assert.False(t, s.Terminal(), s)
	}
	assert.False(t, OrderStatus("LOST").Valid())
	assert.True(t, OrderStatusShipped.Valid())
}

func TestPaymentMethod_Valid(t *testing.T) {
	assert.True(t, PaymentMethodMpesa.Valid())
	assert.True(t, PaymentMethodCashOnDelivery.Valid())
	assert.False(t, PaymentMethod("BITCOIN").Valid())
}

func TestMoneyMarshalsAsNumber(t *testing.T) {
	quote := DeliveryQuote{Location: "Nairobi CBD", Price: decimal.NewFromInt(100), Tier: 1}
	data, err := json.Marshal(quote)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"price":100`)
}

func TestRoundMoney(t *testing.T) {
	got := RoundMoney(decimal.RequireFromString("133.335"))
	assert.True(t, got.Equal(decimal.RequireFromString("133.34")), got.String())
}

func TestEvent_RoundTrip(t *testing.T) {
	orderID := uuid.New()
	ev, err := NewEvent(EventTypePaymentStatusChanged, PaymentStatusChangedData{
		OrderID:     orderID,
		OrderNumber: "HP-1-ABCDEF",
		NewStatus:   PaymentStatusPaid,
		Amount:      decimal.NewFromInt(2300),
	})
	require.NoError(t, err)
	assert.Equal(t, EventTypePaymentStatusChanged, ev.Type)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))

	var data PaymentStatusChangedData
	require.NoError(t, decoded.Decode(&data))
	assert.Equal(t, orderID, data.OrderID)
	assert.Equal(t, PaymentStatusPaid, data.NewStatus)
	assert.True(t, data.Amount.Equal(decimal.NewFromInt(2300)))
}

func TestEvent_DecodeEmpty(t *testing.T) {
	ev := Event{ID: uuid.New(), Type: EventTypeOrderCreated}
	var data OrderCreatedData
	assert.Error(t, ev.Decode(&data))
}

func TestMpesaCallback_Metadata(t *testing.T) {
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok",
		"CallbackMetadata":{"Item":[{"Name":"Amount","Value":2300},{"Name":"MpesaReceiptNumber","Value":"QWE123"},{"Name":"Balance"}]}}}}`

	var cb MpesaCallback
	require.NoError(t, json.Unmarshal([]byte(body), &cb))

	stk := cb.Body.StkCallback
	assert.Equal(t, "ws_CO_1", stk.CheckoutRequestID)

	receipt, ok := stk.Metadata("MpesaReceiptNumber")
	require.True(t, ok)
	assert.JSONEq(t, `"QWE123"`, string(receipt))

	_, ok = stk.Metadata("Missing")
	assert.False(t, ok)
}

func TestPromoCode_Scoped(t *testing.T) {
	p := &PromoCode{}
	assert.False(t, p.Scoped())
	p.CategoryIDs = []uuid.UUID{uuid.New()}
	assert.True(t, p.Scoped())
}
