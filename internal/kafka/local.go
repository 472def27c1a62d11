package kafka

import (
	"context"
	"sync"
	"time"

	"household-planet/internal/logger"
	"household-planet/internal/models"

	"github.com/google/uuid"
)

// LocalBus раздаёт события обработчикам внутри процесса, когда брокер недоступен.
// Реализует тот же набор Publish-методов, что и Producer, и тот же RegisterHandler, что и Consumer.
// Обработчики запускаются в фоне и не задерживают HTTP-ответ.
type LocalBus struct {
	handlerSet
	log     *logger.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewLocalBus создает шину без обработчиков.
func NewLocalBus(log *logger.Logger) *LocalBus {
	return &LocalBus{log: log, timeout: defaultHandlerTimeout}
}

// PublishOrderCreated передает событие создания заказа обработчикам
func (b *LocalBus) PublishOrderCreated(order *models.Order) error {
	return b.publish(models.EventTypeOrderCreated, orderCreatedData(order))
}

// PublishOrderStatusChanged передает событие изменения статуса заказа
func (b *LocalBus) PublishOrderStatusChanged(orderID uuid.UUID, orderNumber string, oldStatus, newStatus models.OrderStatus, notes *string) error {
	return b.publish(models.EventTypeOrderStatusChanged, models.OrderStatusChangedData{
		OrderID:     orderID,
		OrderNumber: orderNumber,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		Notes:       notes,
	})
}

// PublishPaymentStatusChanged передает смену статуса оплаты.
func (b *LocalBus) PublishPaymentStatusChanged(data models.PaymentStatusChangedData) error {
	return b.publish(models.EventTypePaymentStatusChanged, data)
}

// PublishPromoRedeemed передает погашение промокода.
func (b *LocalBus) PublishPromoRedeemed(data models.PromoRedeemedData) error {
	return b.publish(models.EventTypePromoRedeemed, data)
}

// Close дожидается завершения запущенных обработчиков.
func (b *LocalBus) Close() error {
	b.wg.Wait()
	return nil
}

func (b *LocalBus) publish(eventType models.EventType, data interface{}) error {
	event, err := models.NewEvent(eventType, data)
	if err != nil {
		return err
	}

	handler := b.handler(eventType)
	if handler == nil {
		b.log.WithField("event_type", eventType).Debug("No handler registered for event")
		return nil
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		if err := handler(ctx, &event); err != nil {
			b.log.WithError(err).WithFields(eventFields(&event)).Error("Local event handler failed")
			return
		}
		b.log.WithFields(eventFields(&event)).Debug("Event processed locally")
	}()
	return nil
}
