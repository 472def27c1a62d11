package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"household-planet/internal/apperror"
	"household-planet/internal/clock"
	"household-planet/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type fakeMpesa struct {
	pushReq   StkPushRequest
	pushResp  *StkPushResponse
	pushErr   error
	queryResp *StkQueryResult
	queryErr  error
	queried   []string
}

func (f *fakeMpesa) STKPush(_ context.Context, req StkPushRequest) (*StkPushResponse, error) {
	f.pushReq = req
	return f.pushResp, f.pushErr
}

func (f *fakeMpesa) QueryStatus(_ context.Context, checkoutRequestID string) (*StkQueryResult, error) {
	f.queried = append(f.queried, checkoutRequestID)
	return f.queryResp, f.queryErr
}

const testCardHash = "card-webhook-hash"

var paymentTargetColumns = []string{"id", "order_id", "provider", "status", "amount", "order_number", "customer_name", "customer_phone", "customer_email"}

func newTestPaymentService(t *testing.T, gateway MpesaGateway) (*PaymentService, sqlmock.Sqlmock, *recordingPublisher) {
	db, mock := newMockDB(t)
	t.Cleanup(func() { db.Close() })

	events := &recordingPublisher{}
	return NewPaymentService(db, newTestLogger(), gateway, events, testCardHash, clock.NewMockClock(promoNow)), mock, events
}

func expectOrderConfirmed(mock sqlmock.Sqlmock, orderID uuid.UUID, current string) {
	mock.ExpectQuery("SELECT order_number, status FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"order_number", "status"}).AddRow("HP-1-ABCDEF", current))
	if current != string(models.OrderStatusPending) {
		return
	}
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(models.OrderStatusConfirmed, promoNow, orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_status_history").
		WillReturnResult(sqlmock.NewResult(1, 1))
}

const mpesaSuccessCallback = `{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResultCode":0,"ResultDesc":"The service request is processed successfully.",
	"CallbackMetadata":{"Item":[{"Name":"Amount","Value":2300},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"TransactionDate","Value":20191219102115},{"Name":"PhoneNumber","Value":254712345678}]}}}}`

const mpesaCancelledCallback = `{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`

func TestPaymentService_MpesaCallbackPaidConfirmsOrder(t *testing.T) {
	service, mock, events := newTestPaymentService(t, nil)

	paymentID := uuid.New()
	orderID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payment_callbacks").
		WithArgs(sqlmock.AnyArg(), models.PaymentProviderMpesa, "ws_CO_191220191020363925", sqlmock.AnyArg(), promoNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM payments p JOIN orders o ON o.id = p.order_id WHERE p.checkout_request_id = \\$1 FOR UPDATE OF p").
		WithArgs("ws_CO_191220191020363925").
		WillReturnRows(sqlmock.NewRows(paymentTargetColumns).
			AddRow(paymentID.String(), orderID.String(), "MPESA", "PENDING", "2300.00", "HP-1-ABCDEF", "Wanjiku", "254712345678", nil))
	receipt := "NLJ7RT61SV"
	mock.ExpectExec("UPDATE payments").
		WithArgs(models.PaymentStatusPaid, &receipt, nil, promoNow, paymentID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders SET payment_status").
		WithArgs(models.PaymentStatusPaid, promoNow, orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectOrderConfirmed(mock, orderID, "PENDING")
	mock.ExpectCommit()

	if err := service.HandleMpesaCallback(context.Background(), []byte(mpesaSuccessCallback)); err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	if len(events.paymentChanged) != 1 {
		t.Fatalf("expected payment event, got %d", len(events.paymentChanged))
	}
	ev := events.paymentChanged[0]
	if ev.NewStatus != models.PaymentStatusPaid || ev.OldStatus != models.PaymentStatusPending || ev.ProviderTxID != receipt {
		t.Fatalf("unexpected payment event: %+v", ev)
	}
	if len(events.statusChanged) != 1 || events.statusChanged[0].NewStatus != models.OrderStatusConfirmed {
		t.Fatalf("expected order confirmed event, got %+v", events.statusChanged)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPaymentService_MpesaCallbackDuplicateIgnored(t *testing.T) {
	service, mock, events := newTestPaymentService(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payment_callbacks").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := service.HandleMpesaCallback(context.Background(), []byte(mpesaSuccessCallback)); err != nil {
		t.Fatalf("duplicate callback must succeed, got %v", err)
	}
	if len(events.paymentChanged) != 0 {
		t.Fatalf("duplicate must not publish events")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPaymentService_MpesaCallbackCancelledMarksFailed(t *testing.T) {
	service, mock, events := newTestPaymentService(t, nil)

	paymentID := uuid.New()
	orderID := uuid.New()
	reason := "Request cancelled by user"

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payment_callbacks").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FOR UPDATE OF p").
		WillReturnRows(sqlmock.NewRows(paymentTargetColumns).
			AddRow(paymentID.String(), orderID.String(), "MPESA", "PENDING", "2300.00", "HP-1-ABCDEF", "Wanjiku", "254712345678", nil))
	mock.ExpectExec("UPDATE payments").
		WithArgs(models.PaymentStatusFailed, nil, &reason, promoNow, paymentID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders SET payment_status").
		WithArgs(models.PaymentStatusFailed, promoNow, orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := service.HandleMpesaCallback(context.Background(), []byte(mpesaCancelledCallback)); err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if len(events.paymentChanged) != 1 || events.paymentChanged[0].NewStatus != models.PaymentStatusFailed {
		t.Fatalf("expected FAILED event, got %+v", events.paymentChanged)
	}
	if len(events.statusChanged) != 0 {
		t.Fatalf("order status must not change on failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPaymentService_CallbackAfterReconcileIsNoop(t *testing.T) {
	service, mock, events := newTestPaymentService(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payment_callbacks").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FOR UPDATE OF p").
		WillReturnRows(sqlmock.NewRows(paymentTargetColumns).
			AddRow(uuid.NewString(), uuid.NewString(), "MPESA", "PAID", "2300.00", "HP-1-ABCDEF", "Wanjiku", "254712345678", nil))
	mock.ExpectCommit()

	if err := service.HandleMpesaCallback(context.Background(), []byte(mpesaSuccessCallback)); err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if len(events.paymentChanged) != 0 {
		t.Fatalf("already paid payment must not publish again")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPaymentService_PaidCallbackAfterFailureRecordsReceipt(t *testing.T) {
	service, mock, events := newTestPaymentService(t, nil)
	hook := logtest.NewLocal(service.log.Logger)

	paymentID := uuid.New()
	receipt := "NLJ7RT61SV"

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payment_callbacks").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FOR UPDATE OF p").
		WillReturnRows(sqlmock.NewRows(paymentTargetColumns).
			AddRow(paymentID.String(), uuid.NewString(), "MPESA", "FAILED", "2300.00", "HP-1-ABCDEF", "Wanjiku", "254712345678", nil))
	mock.ExpectExec("UPDATE payments SET provider_tx_id = COALESCE").
		WithArgs(&receipt, "late success NLJ7RT61SV after FAILED: refund or manual review required", promoNow, paymentID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := service.HandleMpesaCallback(context.Background(), []byte(mpesaSuccessCallback)); err != nil {
		t.Fatalf("late callback must be acknowledged, got %v", err)
	}
	if len(events.paymentChanged) != 0 || len(events.statusChanged) != 0 {
		t.Fatalf("failed payment must stay failed, got events %+v", events.paymentChanged)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected error log for late payment, got %+v", entry)
	}
	if entry.Data["order_number"] != "HP-1-ABCDEF" || entry.Data["provider_tx_id"] != receipt {
		t.Fatalf("log entry lacks order reference: %v", entry.Data)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPaymentService_PaidCallbackForCancelledOrder(t *testing.T) {
	service, mock, events := newTestPaymentService(t, nil)
	orderID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payment_callbacks").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FOR UPDATE OF p").
		WillReturnRows(sqlmock.NewRows(paymentTargetColumns).
			AddRow(uuid.NewString(), orderID.String(), "MPESA", "PENDING", "2300.00", "HP-1-ABCDEF", "Wanjiku", "254712345678", nil))
	mock.ExpectExec("UPDATE payments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders SET payment_status").WillReturnResult(sqlmock.NewResult(0, 1))
	expectOrderConfirmed(mock, orderID, "CANCELLED")
	mock.ExpectCommit()

	if err := service.HandleMpesaCallback(context.Background(), []byte(mpesaSuccessCallback)); err != nil {
		t.Fatalf("payment must still be recorded, got %v", err)
	}
	if len(events.paymentChanged) != 1 || len(events.statusChanged) != 0 {
		t.Fatalf("unexpected events: %d payment, %d order", len(events.paymentChanged), len(events.statusChanged))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPaymentService_MpesaCallbackUnknownCheckoutRollsBack(t *testing.T) {
	service, mock, _ := newTestPaymentService(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payment_callbacks").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FOR UPDATE OF p").WillReturnRows(sqlmock.NewRows(paymentTargetColumns))
	mock.ExpectRollback()

	err := service.HandleMpesaCallback(context.Background(), []byte(mpesaSuccessCallback))
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPaymentService_MpesaCallbackInvalidPayload(t *testing.T) {
	service, _, _ := newTestPaymentService(t, nil)

	for _, body := range []string{`not json`, `{"Body":{"stkCallback":{"ResultCode":0}}}`} {
		if err := service.HandleMpesaCallback(context.Background(), []byte(body)); !apperror.Is(err, apperror.KindValidation) {
			t.Fatalf("expected validation error for %q, got %v", body, err)
		}
	}
}

func TestPaymentService_CardCallbackSignature(t *testing.T) {
	service, _, _ := newTestPaymentService(t, nil)

	err := service.HandleCardCallback(context.Background(), "wrong", []byte(`{}`))
	if !apperror.Is(err, apperror.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	unconfigured := NewPaymentService(service.db, newTestLogger(), nil, nil, "", nil)
	err = unconfigured.HandleCardCallback(context.Background(), "", []byte(`{}`))
	if !apperror.Is(err, apperror.KindUnauthorized) {
		t.Fatalf("expected unauthorized when hash is not configured, got %v", err)
	}
}

func TestPaymentService_CardCallback(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus models.PaymentStatus
	}{
		{
			name:       "successful",
			body:       `{"event":"charge.completed","data":{"id":1234567,"tx_ref":"HP-1-ABCDEF","flw_ref":"FLW-1","amount":2300,"currency":"KES","status":"successful"}}`,
			wantStatus: models.PaymentStatusPaid,
		},
		{
			name:       "underpaid",
			body:       `{"event":"charge.completed","data":{"id":1234567,"tx_ref":"HP-1-ABCDEF","flw_ref":"FLW-1","amount":100,"currency":"KES","status":"successful"}}`,
			wantStatus: models.PaymentStatusFailed,
		},
		{
			name:       "wrong currency",
			body:       `{"event":"charge.completed","data":{"id":1234567,"tx_ref":"HP-1-ABCDEF","flw_ref":"FLW-1","amount":2300,"currency":"USD","status":"successful"}}`,
			wantStatus: models.PaymentStatusFailed,
		},
		{
			name:       "failed",
			body:       `{"event":"charge.completed","data":{"id":1234567,"tx_ref":"HP-1-ABCDEF","flw_ref":"FLW-1","amount":2300,"currency":"KES","status":"failed"}}`,
			wantStatus: models.PaymentStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, mock, events := newTestPaymentService(t, nil)
			orderID := uuid.New()

			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO payment_callbacks").
				WithArgs(sqlmock.AnyArg(), models.PaymentProviderCard, "1234567", sqlmock.AnyArg(), promoNow).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectQuery("WHERE o.order_number = \\$1 AND p.provider = 'CARD'").
				WithArgs("HP-1-ABCDEF").
				WillReturnRows(sqlmock.NewRows(paymentTargetColumns).
					AddRow(uuid.NewString(), orderID.String(), "CARD", "PENDING", "2300.00", "HP-1-ABCDEF", "Wanjiku", "254712345678", "w@example.com"))
			mock.ExpectExec("UPDATE payments").
				WithArgs(tt.wantStatus, sqlmock.AnyArg(), sqlmock.AnyArg(), promoNow, sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec("UPDATE orders SET payment_status").
				WithArgs(tt.wantStatus, promoNow, orderID).
				WillReturnResult(sqlmock.NewResult(0, 1))
			if tt.wantStatus == models.PaymentStatusPaid {
				expectOrderConfirmed(mock, orderID, "PENDING")
			}
			mock.ExpectCommit()

			if err := service.HandleCardCallback(context.Background(), testCardHash, []byte(tt.body)); err != nil {
				t.Fatalf("card callback failed: %v", err)
			}
			if len(events.paymentChanged) != 1 || events.paymentChanged[0].NewStatus != tt.wantStatus {
				t.Fatalf("expected %s event, got %+v", tt.wantStatus, events.paymentChanged)
			}
			if events.paymentChanged[0].CustomerEmail == nil {
				t.Fatalf("expected customer email in event")
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPaymentService_InitiateMpesaRetryAfterFailure(t *testing.T) {
	gateway := &fakeMpesa{pushResp: &StkPushResponse{
		CheckoutRequestID: "ws_CO_2",
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}}
	service, mock, _ := newTestPaymentService(t, gateway)

	orderID := uuid.New()
	paymentID := uuid.New()

	mock.ExpectQuery("SELECT order_number, status, payment_status, payment_method, total, customer_phone FROM orders").
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"order_number", "status", "payment_status", "payment_method", "total", "customer_phone"}).
			AddRow("HP-1-ABCDEF", "PENDING", "FAILED", "MPESA", "2300.50", "254712345678"))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, status FROM payments").
		WithArgs(orderID, models.PaymentProviderMpesa).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(paymentID.String(), "FAILED"))
	mock.ExpectExec("UPDATE payments").
		WithArgs(models.PaymentStatusPending, "254722000111", "ws_CO_2", promoNow, paymentID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders SET payment_status").
		WithArgs(models.PaymentStatusPending, promoNow, orderID, models.PaymentStatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := service.InitiateMpesa(context.Background(), orderID, &models.InitiateMpesaRequest{Phone: "0722 000 111"})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}

	if resp.PaymentID != paymentID || resp.CheckoutRequestID != "ws_CO_2" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gateway.pushReq.Phone != "254722000111" || gateway.pushReq.AccountRef != "HP-1-ABCDEF" {
		t.Fatalf("unexpected push request: %+v", gateway.pushReq)
	}
	if !gateway.pushReq.Amount.Equal(decimal.RequireFromString("2300.5")) {
		t.Fatalf("unexpected amount: %s", gateway.pushReq.Amount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPaymentService_InitiateMpesaRejected(t *testing.T) {
	tests := []struct {
		name          string
		status        string
		paymentStatus string
		method        string
		kind          apperror.Kind
	}{
		{"cash on delivery", "PENDING", "PENDING", "CASH_ON_DELIVERY", apperror.KindValidation},
		{"already paid", "CONFIRMED", "PAID", "MPESA", apperror.KindConflict},
		{"cancelled", "CANCELLED", "PENDING", "MPESA", apperror.KindConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &fakeMpesa{}
			service, mock, _ := newTestPaymentService(t, gateway)

			mock.ExpectQuery("FROM orders").
				WillReturnRows(sqlmock.NewRows([]string{"order_number", "status", "payment_status", "payment_method", "total", "customer_phone"}).
					AddRow("HP-1-ABCDEF", tt.status, tt.paymentStatus, tt.method, "2300", "254712345678"))

			_, err := service.InitiateMpesa(context.Background(), uuid.New(), nil)
			if !apperror.Is(err, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
			if gateway.pushReq.Phone != "" {
				t.Fatalf("stk push must not be sent")
			}
		})
	}
}

func TestPaymentService_InitiateMpesaWithoutGateway(t *testing.T) {
	service, _, _ := newTestPaymentService(t, nil)

	if _, err := service.InitiateMpesa(context.Background(), uuid.New(), nil); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPaymentService_ReconcileMpesa(t *testing.T) {
	t.Run("still pending", func(t *testing.T) {
		gateway := &fakeMpesa{queryErr: ErrMpesaPending}
		service, mock, _ := newTestPaymentService(t, gateway)

		changed, err := service.ReconcileMpesa(context.Background(), "ws_CO_1")
		if err != nil || changed {
			t.Fatalf("expected no change, got %v %v", changed, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("db must not be touched: %v", err)
		}
	})

	t.Run("gateway error", func(t *testing.T) {
		gateway := &fakeMpesa{queryErr: errors.New("timeout")}
		service, _, _ := newTestPaymentService(t, gateway)

		if _, err := service.ReconcileMpesa(context.Background(), "ws_CO_1"); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("paid", func(t *testing.T) {
		gateway := &fakeMpesa{queryResp: &StkQueryResult{ResponseCode: "0", ResultCode: "0", ResultDesc: "processed"}}
		service, mock, events := newTestPaymentService(t, gateway)
		orderID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE OF p").
			WithArgs("ws_CO_1").
			WillReturnRows(sqlmock.NewRows(paymentTargetColumns).
				AddRow(uuid.NewString(), orderID.String(), "MPESA", "PENDING", "2300.00", "HP-1-ABCDEF", "Wanjiku", "254712345678", nil))
		mock.ExpectExec("UPDATE payments").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE orders SET payment_status").WillReturnResult(sqlmock.NewResult(0, 1))
		expectOrderConfirmed(mock, orderID, "PENDING")
		mock.ExpectCommit()

		changed, err := service.ReconcileMpesa(context.Background(), "ws_CO_1")
		if err != nil || !changed {
			t.Fatalf("expected change, got %v %v", changed, err)
		}
		if len(events.paymentChanged) != 1 {
			t.Fatalf("expected payment event")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})
}

func TestPaymentService_StalePendingMpesa(t *testing.T) {
	service, mock, _ := newTestPaymentService(t, nil)

	mock.ExpectQuery("SELECT checkout_request_id FROM payments").
		WithArgs(models.PaymentProviderMpesa, models.PaymentStatusPending, promoNow.Add(-5*time.Minute), 10).
		WillReturnRows(sqlmock.NewRows([]string{"checkout_request_id"}).AddRow("ws_CO_1").AddRow("ws_CO_2"))

	ids, err := service.StalePendingMpesa(context.Background(), 5*time.Minute, 10)
	if err != nil {
		t.Fatalf("stale query failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "ws_CO_1" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestPaymentService_GetPayments(t *testing.T) {
	service, mock, _ := newTestPaymentService(t, nil)
	orderID := uuid.New()

	mock.ExpectQuery("FROM payments WHERE order_id = \\$1").
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "provider", "status", "amount", "phone", "checkout_request_id", "provider_tx_id", "failure_reason", "created_at", "updated_at"}).
			AddRow(uuid.NewString(), orderID.String(), "MPESA", "PAID", "2300.00", "254712345678", "ws_CO_1", "NLJ7RT61SV", nil, promoNow, promoNow))

	payments, err := service.GetPayments(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get payments failed: %v", err)
	}
	if len(payments) != 1 || payments[0].Status != models.PaymentStatusPaid || *payments[0].ProviderTxID != "NLJ7RT61SV" {
		t.Fatalf("unexpected payments: %+v", payments)
	}
}
