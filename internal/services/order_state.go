package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"household-planet/internal/apperror"
	"household-planet/internal/models"

	"github.com/google/uuid"
)

// orderTransitions: CANCELLED достижим из любого нетерминального статуса.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:    {models.OrderStatusConfirmed, models.OrderStatusCancelled},
	models.OrderStatusConfirmed:  {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:    {models.OrderStatusDelivered, models.OrderStatusCancelled},
}

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusPending: {models.PaymentStatusPaid, models.PaymentStatusFailed},
	models.PaymentStatusFailed:  {models.PaymentStatusPending},
}

// CanTransitionOrder сообщает, допустим ли переход статуса заказа.
func CanTransitionOrder(from, to models.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment сообщает, допустим ли переход статуса оплаты. PAID терминален.
func CanTransitionPayment(from, to models.PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderStatusChange описывает применённый переход.
type OrderStatusChange struct {
	OrderNumber string
	OldStatus   models.OrderStatus
	NewStatus   models.OrderStatus
}

// transitionOrderWithTx блокирует заказ, проверяет переход, обновляет статус и пишет историю.
// Возвращает nil без ошибки, если заказ уже в целевом статусе.
func transitionOrderWithTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, to models.OrderStatus, notes *string, changedBy *uuid.UUID, now time.Time) (*OrderStatusChange, error) {
	var (
		orderNumber string
		current     models.OrderStatus
	)
	err := tx.QueryRowContext(ctx, `SELECT order_number, status FROM orders WHERE id = $1 FOR UPDATE`, orderID).
		Scan(&orderNumber, &current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("order not found", err)
		}
		return nil, fmt.Errorf("failed to fetch order status: %w", err)
	}

	if current == to {
		return nil, nil
	}
	if !CanTransitionOrder(current, to) {
		return nil, apperror.ConflictReason(apperror.ReasonInvalidStatusTransition,
			fmt.Sprintf("cannot change order status from %s to %s", current, to)).
			WithDetail("from", current).
			WithDetail("to", to)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`, to, now, orderID); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	historyQuery := `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, notes, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.ExecContext(ctx, historyQuery, uuid.New(), orderID, current, to, notes, changedBy, now); err != nil {
		return nil, fmt.Errorf("failed to record order status history: %w", err)
	}

	return &OrderStatusChange{OrderNumber: orderNumber, OldStatus: current, NewStatus: to}, nil
}
