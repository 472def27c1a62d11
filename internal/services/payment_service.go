package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"household-planet/internal/apperror"
	"household-planet/internal/clock"
	"household-planet/internal/database"
	"household-planet/internal/logger"
	"household-planet/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const cardSuccessfulStatus = "successful"

// PaymentService ведёт статусы оплат: STK push, вебхуки провайдеров и сверку.
type PaymentService struct {
	db       *database.DB
	log      *logger.Logger
	mpesa    MpesaGateway
	events   EventPublisher
	clock    clock.Clock
	cardHash string
}

// NewPaymentService создает платёжный сервис. mpesa и events могут быть nil.
func NewPaymentService(db *database.DB, log *logger.Logger, mpesa MpesaGateway, events EventPublisher, cardHash string, clk clock.Clock) *PaymentService {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &PaymentService{
		db:       db,
		log:      log,
		mpesa:    mpesa,
		events:   events,
		clock:    clk,
		cardHash: cardHash,
	}
}

// callbackRecord — сырой вебхук, который пишется в payment_callbacks в той же транзакции.
type callbackRecord struct {
	provider models.PaymentProvider
	key      string
	payload  []byte
}

// paymentTarget — платёж вместе с контактами заказа, заблокированный на время применения итога.
type paymentTarget struct {
	paymentID     uuid.UUID
	orderID       uuid.UUID
	provider      models.PaymentProvider
	status        models.PaymentStatus
	amount        decimal.Decimal
	orderNumber   string
	customerName  string
	customerPhone string
	customerEmail *string
}

// InitiateMpesa отправляет STK push на телефон клиента. Повтор после FAILED
// возвращает платёж в PENDING.
func (s *PaymentService) InitiateMpesa(ctx context.Context, orderID uuid.UUID, req *models.InitiateMpesaRequest) (*models.InitiateMpesaResponse, error) {
	if s.mpesa == nil {
		return nil, apperror.Validation("M-Pesa payments are not available", nil)
	}

	var (
		orderNumber   string
		status        models.OrderStatus
		paymentStatus models.PaymentStatus
		method        models.PaymentMethod
		total         decimal.Decimal
		customerPhone string
	)
	query := `
		SELECT order_number, status, payment_status, payment_method, total, customer_phone
		FROM orders
		WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, orderID).Scan(&orderNumber, &status, &paymentStatus, &method, &total, &customerPhone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("order not found", err)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if method != models.PaymentMethodMpesa {
		return nil, apperror.Validation("order is not payable via M-Pesa", nil)
	}
	if paymentStatus == models.PaymentStatusPaid {
		return nil, apperror.Conflict("order is already paid", nil)
	}
	if status.Terminal() {
		return nil, apperror.Conflict("order is closed", nil)
	}

	phone := customerPhone
	if req != nil && strings.TrimSpace(req.Phone) != "" {
		if phone, err = NormalizePhone(req.Phone); err != nil {
			return nil, err
		}
	}

	push, err := s.mpesa.STKPush(ctx, StkPushRequest{
		Phone:       phone,
		Amount:      total,
		AccountRef:  orderNumber,
		Description: "Household Planet order " + orderNumber,
	})
	if err != nil {
		if errors.Is(err, ErrMpesaNotConfigured) {
			return nil, apperror.Validation("M-Pesa payments are not available", err)
		}
		return nil, fmt.Errorf("failed to send stk push: %w", err)
	}

	paymentID, err := s.attachCheckout(ctx, orderID, total, phone, push.CheckoutRequestID)
	if err != nil {
		return nil, err
	}

	return &models.InitiateMpesaResponse{
		PaymentID:         paymentID,
		CheckoutRequestID: push.CheckoutRequestID,
		CustomerMessage:   push.CustomerMessage,
	}, nil
}

// attachCheckout привязывает CheckoutRequestID к последней M-Pesa попытке заказа.
func (s *PaymentService) attachCheckout(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, phone, checkoutID string) (uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.clock.Now()

	var (
		paymentID uuid.UUID
		current   models.PaymentStatus
	)
	query := `
		SELECT id, status
		FROM payments
		WHERE order_id = $1 AND provider = $2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`
	err = tx.QueryRowContext(ctx, query, orderID, models.PaymentProviderMpesa).Scan(&paymentID, &current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		paymentID = uuid.New()
		insert := `
			INSERT INTO payments (id, order_id, provider, status, amount, phone, checkout_request_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		if _, err := tx.ExecContext(ctx, insert, paymentID, orderID, models.PaymentProviderMpesa, models.PaymentStatusPending,
			amount, phone, checkoutID, now, now); err != nil {
			return uuid.Nil, fmt.Errorf("failed to create payment: %w", err)
		}
	case err != nil:
		return uuid.Nil, fmt.Errorf("failed to get payment: %w", err)
	default:
		if current == models.PaymentStatusPaid {
			return uuid.Nil, apperror.Conflict("order is already paid", nil)
		}
		update := `
			UPDATE payments
			SET status = $1, phone = $2, checkout_request_id = $3, failure_reason = NULL, updated_at = $4
			WHERE id = $5
		`
		if _, err := tx.ExecContext(ctx, update, models.PaymentStatusPending, phone, checkoutID, now, paymentID); err != nil {
			return uuid.Nil, fmt.Errorf("failed to update payment: %w", err)
		}
	}

	retry := `UPDATE orders SET payment_status = $1, updated_at = $2 WHERE id = $3 AND payment_status = $4`
	if _, err := tx.ExecContext(ctx, retry, models.PaymentStatusPending, now, orderID, models.PaymentStatusFailed); err != nil {
		return uuid.Nil, fmt.Errorf("failed to reset order payment status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit payment: %w", err)
	}
	return paymentID, nil
}

// HandleMpesaCallback разбирает вебхук Daraja и применяет итог. Повторный вебхук
// с тем же CheckoutRequestID ничего не меняет.
func (s *PaymentService) HandleMpesaCallback(ctx context.Context, payload []byte) error {
	var cb models.MpesaCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return apperror.Validation("invalid M-Pesa callback payload", err)
	}

	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return apperror.Validation("CheckoutRequestID is required", nil)
	}

	result := models.PaymentResult{
		Provider:          models.PaymentProviderMpesa,
		CheckoutRequestID: stk.CheckoutRequestID,
		Success:           stk.ResultCode == 0,
	}
	if result.Success {
		if raw, ok := stk.Metadata("MpesaReceiptNumber"); ok {
			var receipt string
			if err := json.Unmarshal(raw, &receipt); err == nil {
				result.ProviderTxID = receipt
			}
		}
		if raw, ok := stk.Metadata("Amount"); ok {
			if amount, err := decimal.NewFromString(strings.Trim(string(raw), `"`)); err == nil {
				result.Amount = amount
			}
		}
	} else {
		result.FailureReason = stk.ResultDesc
	}

	_, err := s.applyResult(ctx, result, &callbackRecord{
		provider: models.PaymentProviderMpesa,
		key:      stk.CheckoutRequestID,
		payload:  payload,
	})
	return err
}

// HandleCardCallback проверяет заголовок verif-hash и применяет итог карточной оплаты.
func (s *PaymentService) HandleCardCallback(ctx context.Context, verifHash string, payload []byte) error {
	if s.cardHash == "" {
		return apperror.Unauthorized("card webhooks are not configured", nil)
	}
	if subtle.ConstantTimeCompare([]byte(verifHash), []byte(s.cardHash)) != 1 {
		return apperror.Unauthorized("invalid webhook signature", nil)
	}

	var cb models.CardCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return apperror.Validation("invalid card callback payload", err)
	}
	if cb.Data.TxRef == "" || cb.Data.ID == 0 {
		return apperror.Validation("tx_ref and id are required", nil)
	}

	txID := strconv.FormatInt(cb.Data.ID, 10)
	result := models.PaymentResult{
		Provider:     models.PaymentProviderCard,
		OrderNumber:  cb.Data.TxRef,
		ProviderTxID: txID,
		Amount:       cb.Data.Amount,
		Success:      strings.EqualFold(cb.Data.Status, cardSuccessfulStatus),
	}
	if result.Success && cb.Data.Currency != "" && !strings.EqualFold(cb.Data.Currency, "KES") {
		result.Success = false
		result.FailureReason = "unexpected currency " + cb.Data.Currency
	}
	if !result.Success && result.FailureReason == "" {
		result.FailureReason = "card payment " + cb.Data.Status
	}

	_, err := s.applyResult(ctx, result, &callbackRecord{
		provider: models.PaymentProviderCard,
		key:      txID,
		payload:  payload,
	})
	return err
}

// ApplyPaymentResult применяет итог оплаты без записи вебхука (используется сверкой).
// Возвращает true, если статус изменился.
func (s *PaymentService) ApplyPaymentResult(ctx context.Context, result models.PaymentResult) (bool, error) {
	return s.applyResult(ctx, result, nil)
}

func (s *PaymentService) applyResult(ctx context.Context, result models.PaymentResult, record *callbackRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.clock.Now()

	if record != nil {
		fresh, err := recordCallbackWithTx(ctx, tx, record, now)
		if err != nil {
			return false, err
		}
		if !fresh {
			s.log.WithFields(map[string]interface{}{
				"provider":     record.provider,
				"provider_key": record.key,
			}).Info("Duplicate payment callback ignored")
			return false, nil
		}
	}

	target, err := lockPaymentTargetWithTx(ctx, tx, result)
	if err != nil {
		return false, err
	}

	newStatus := models.PaymentStatusFailed
	if result.Success {
		newStatus = models.PaymentStatusPaid
		if result.Amount.IsPositive() && result.Amount.LessThan(target.amount.Floor()) {
			newStatus = models.PaymentStatusFailed
			result.FailureReason = fmt.Sprintf("paid %s, expected %s", result.Amount.StringFixed(2), target.amount.StringFixed(2))
		}
	}

	if target.status == newStatus {
		// вебхук пришёл после сверки или наоборот: коммитим только запись о вебхуке
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit payment callback: %w", err)
		}
		return false, nil
	}
	var txID, failure *string
	if result.ProviderTxID != "" {
		txID = &result.ProviderTxID
	}

	if !CanTransitionPayment(target.status, newStatus) {
		fields := map[string]interface{}{
			"payment_id":     target.paymentID,
			"order_id":       target.orderID,
			"order_number":   target.orderNumber,
			"provider":       target.provider,
			"provider_tx_id": result.ProviderTxID,
			"amount":         result.Amount.StringFixed(2),
			"from":           target.status,
			"to":             newStatus,
		}
		if newStatus == models.PaymentStatusPaid {
			// деньги списаны, а платёж уже закрыт: квитанция остаётся в записи для возврата
			note := fmt.Sprintf("late success %s after %s: refund or manual review required", result.ProviderTxID, target.status)
			markLate := `UPDATE payments SET provider_tx_id = COALESCE($1, provider_tx_id), failure_reason = $2, updated_at = $3 WHERE id = $4`
			if _, err := tx.ExecContext(ctx, markLate, txID, note, now, target.paymentID); err != nil {
				return false, fmt.Errorf("failed to record late payment: %w", err)
			}
			s.log.WithFields(fields).Error("Payment succeeded after it was closed, manual review required")
		} else {
			s.log.WithFields(fields).Warn("Payment result ignored: invalid transition")
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit payment callback: %w", err)
		}
		return false, nil
	}
	if newStatus == models.PaymentStatusFailed && result.FailureReason != "" {
		failure = &result.FailureReason
	}

	updatePayment := `
		UPDATE payments
		SET status = $1, provider_tx_id = COALESCE($2, provider_tx_id), failure_reason = $3, updated_at = $4
		WHERE id = $5
	`
	if _, err := tx.ExecContext(ctx, updatePayment, newStatus, txID, failure, now, target.paymentID); err != nil {
		return false, fmt.Errorf("failed to update payment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE orders SET payment_status = $1, updated_at = $2 WHERE id = $3`, newStatus, now, target.orderID); err != nil {
		return false, fmt.Errorf("failed to update order payment status: %w", err)
	}

	var orderChange *OrderStatusChange
	if newStatus == models.PaymentStatusPaid {
		notes := "payment received via " + string(target.provider)
		orderChange, err = transitionOrderWithTx(ctx, tx, target.orderID, models.OrderStatusConfirmed, &notes, nil, now)
		if err != nil {
			if apperror.ReasonOf(err) != apperror.ReasonInvalidStatusTransition {
				return false, err
			}
			// заказ отменён или уже ушёл дальше: фиксируем оплату, статус заказа не трогаем
			s.log.WithField("order_id", target.orderID).Warn("Payment received for order that cannot be confirmed")
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit payment result: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"payment_id":   target.paymentID,
		"order_number": target.orderNumber,
		"old_status":   target.status,
		"new_status":   newStatus,
	}).Info("Payment status updated")

	s.publishPaymentChange(target, newStatus, result, orderChange)
	return true, nil
}

func (s *PaymentService) publishPaymentChange(target *paymentTarget, newStatus models.PaymentStatus, result models.PaymentResult, orderChange *OrderStatusChange) {
	if s.events == nil {
		return
	}

	err := s.events.PublishPaymentStatusChanged(models.PaymentStatusChangedData{
		OrderID:       target.orderID,
		OrderNumber:   target.orderNumber,
		PaymentID:     target.paymentID,
		Provider:      target.provider,
		OldStatus:     target.status,
		NewStatus:     newStatus,
		Amount:        target.amount,
		ProviderTxID:  result.ProviderTxID,
		CustomerName:  target.customerName,
		CustomerPhone: target.customerPhone,
		CustomerEmail: target.customerEmail,
	})
	if err != nil {
		s.log.WithError(err).WithField("payment_id", target.paymentID).Error("Failed to publish payment status changed event")
	}

	if orderChange != nil {
		if err := s.events.PublishOrderStatusChanged(target.orderID, orderChange.OrderNumber, orderChange.OldStatus, orderChange.NewStatus, nil); err != nil {
			s.log.WithError(err).WithField("order_id", target.orderID).Error("Failed to publish order status changed event")
		}
	}
}

// recordCallbackWithTx возвращает false, если такой вебхук уже был принят.
func recordCallbackWithTx(ctx context.Context, tx *sql.Tx, record *callbackRecord, now time.Time) (bool, error) {
	query := `
		INSERT INTO payment_callbacks (id, provider, provider_key, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, provider_key) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, query, uuid.New(), record.provider, record.key, string(record.payload), now)
	if err != nil {
		return false, fmt.Errorf("failed to record payment callback: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

const paymentTargetSelect = `
	SELECT p.id, p.order_id, p.provider, p.status, p.amount, o.order_number, o.customer_name, o.customer_phone, o.customer_email
	FROM payments p
	JOIN orders o ON o.id = p.order_id
`

func lockPaymentTargetWithTx(ctx context.Context, tx *sql.Tx, result models.PaymentResult) (*paymentTarget, error) {
	var (
		query string
		arg   string
	)
	switch result.Provider {
	case models.PaymentProviderMpesa:
		query = paymentTargetSelect + " WHERE p.checkout_request_id = $1 FOR UPDATE OF p"
		arg = result.CheckoutRequestID
	case models.PaymentProviderCard:
		query = paymentTargetSelect + " WHERE o.order_number = $1 AND p.provider = 'CARD' ORDER BY p.created_at DESC LIMIT 1 FOR UPDATE OF p"
		arg = result.OrderNumber
	default:
		return nil, apperror.Validation("unsupported payment provider", nil)
	}

	t := &paymentTarget{}
	err := tx.QueryRowContext(ctx, query, arg).Scan(&t.paymentID, &t.orderID, &t.provider, &t.status, &t.amount,
		&t.orderNumber, &t.customerName, &t.customerPhone, &t.customerEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("payment not found", err)
		}
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}
	return t, nil
}

// StalePendingMpesa возвращает CheckoutRequestID зависших M-Pesa платежей.
func (s *PaymentService) StalePendingMpesa(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	query := `
		SELECT checkout_request_id
		FROM payments
		WHERE provider = $1 AND status = $2 AND checkout_request_id IS NOT NULL AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, models.PaymentProviderMpesa, models.PaymentStatusPending, s.clock.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stale payment: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale payments: %w", err)
	}
	return ids, nil
}

// ReconcileMpesa запрашивает у Daraja итог STK push и применяет его.
// Пока клиент не ответил, платёж остаётся в PENDING.
func (s *PaymentService) ReconcileMpesa(ctx context.Context, checkoutRequestID string) (bool, error) {
	if s.mpesa == nil {
		return false, ErrMpesaNotConfigured
	}

	status, err := s.mpesa.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		if errors.Is(err, ErrMpesaPending) {
			return false, nil
		}
		return false, err
	}

	result := models.PaymentResult{
		Provider:          models.PaymentProviderMpesa,
		CheckoutRequestID: checkoutRequestID,
		Success:           status.Success(),
	}
	if !result.Success {
		result.FailureReason = status.ResultDesc
	}
	return s.ApplyPaymentResult(ctx, result)
}

// GetPayments возвращает попытки оплаты заказа.
func (s *PaymentService) GetPayments(ctx context.Context, orderID uuid.UUID) ([]*models.Payment, error) {
	query := `
		SELECT id, order_id, provider, status, amount, phone, checkout_request_id, provider_tx_id, failure_reason, created_at, updated_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p := &models.Payment{}
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Provider, &p.Status, &p.Amount, &p.Phone, &p.CheckoutRequestID,
			&p.ProviderTxID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}
