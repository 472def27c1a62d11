package notification

import (
	"context"
	"errors"
	"time"

	"household-planet/internal/logger"
	"household-planet/internal/models"
	"household-planet/internal/redis"
)

const defaultDedupeTTL = 72 * time.Hour

type dedupeStore interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// DispatchPublisher публикует итог рассылки.
type DispatchPublisher interface {
	PublishNotificationDispatched(data models.NotificationDispatchedData) error
}

// Dispatcher рассылает уведомления по всем каналам. Одно событие по заказу
// отправляется не более одного раза: ключ notify:<order>:<event> ставится через SETNX.
type Dispatcher struct {
	channels []Channel
	dedupe   dedupeStore
	events   DispatchPublisher
	log      *logger.Logger
	ttl      time.Duration
}

// NewDispatcher создает диспетчер. ttl <= 0 заменяется на 72 часа.
func NewDispatcher(log *logger.Logger, ttl time.Duration, channels ...Channel) *Dispatcher {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &Dispatcher{channels: channels, log: log, ttl: ttl}
}

// WithDedupe включает дедупликацию через Redis.
func (d *Dispatcher) WithDedupe(store dedupeStore) *Dispatcher {
	d.dedupe = store
	return d
}

// WithPublisher включает публикацию notification.dispatched.
func (d *Dispatcher) WithPublisher(p DispatchPublisher) *Dispatcher {
	d.events = p
	return d
}

// HandlePaymentStatusChanged — обработчик Kafka для payment.status_changed.
// Уведомляет клиента только о переходе в PAID; ошибки каналов лишь логируются.
func (d *Dispatcher) HandlePaymentStatusChanged(ctx context.Context, event *models.Event) error {
	var data models.PaymentStatusChangedData
	if err := event.Decode(&data); err != nil {
		return err
	}
	if data.NewStatus != models.PaymentStatusPaid {
		return nil
	}

	key := redis.GenerateKey(redis.KeyPrefixNotify, data.OrderNumber+":payment.paid")
	if !d.acquire(ctx, key, event) {
		return nil
	}

	msg := Message{
		Template:     TemplatePaymentPaid,
		Subject:      "Payment received for order " + data.OrderNumber,
		OrderNumber:  data.OrderNumber,
		CustomerName: data.CustomerName,
		Phone:        data.CustomerPhone,
		Amount:       data.Amount.StringFixed(2),
		Reference:    data.ProviderTxID,
	}
	if data.CustomerEmail != nil {
		msg.Email = *data.CustomerEmail
	}

	sent, failed := d.Dispatch(ctx, msg)
	if len(sent) == 0 && len(failed) > 0 {
		// ни один канал не сработал: снимаем ключ, чтобы повторная доставка события попробовала снова
		d.release(ctx, key)
	}

	if d.events != nil && (len(sent) > 0 || len(failed) > 0) {
		err := d.events.PublishNotificationDispatched(models.NotificationDispatchedData{
			OrderID:     data.OrderID,
			OrderNumber: data.OrderNumber,
			Trigger:     models.EventTypePaymentStatusChanged,
			Channels:    sent,
			Failed:      failed,
		})
		if err != nil {
			d.log.WithError(err).WithField("order_number", data.OrderNumber).Error("Failed to publish notification dispatched event")
		}
	}
	return nil
}

// Dispatch отправляет сообщение во все каналы и возвращает имена успешных и упавших.
// Каналы без адресата пропускаются.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (sent, failed []string) {
	for _, ch := range d.channels {
		err := ch.Send(ctx, msg)
		switch {
		case errors.Is(err, ErrNoRecipient):
			continue
		case err != nil:
			d.log.WithError(err).WithFields(map[string]interface{}{
				"channel":      ch.Name(),
				"order_number": msg.OrderNumber,
			}).Error("Notification delivery failed")
			failed = append(failed, ch.Name())
		default:
			sent = append(sent, ch.Name())
		}
	}

	d.log.WithFields(map[string]interface{}{
		"order_number": msg.OrderNumber,
		"template":     msg.Template,
		"sent":         sent,
		"failed":       failed,
	}).Info("Notification dispatched")
	return sent, failed
}

func (d *Dispatcher) acquire(ctx context.Context, key string, event *models.Event) bool {
	if d.dedupe == nil {
		return true
	}
	ok, err := d.dedupe.SetNX(ctx, key, event.ID.String(), d.ttl)
	if err != nil {
		// без Redis дедупликации нет, отправляем
		d.log.WithError(err).WithField("key", key).Warn("Notification dedupe unavailable")
		return true
	}
	if !ok {
		d.log.WithField("key", key).Info("Duplicate notification skipped")
	}
	return ok
}

func (d *Dispatcher) release(ctx context.Context, key string) {
	if d.dedupe == nil {
		return
	}
	if err := d.dedupe.Delete(ctx, key); err != nil {
		d.log.WithError(err).WithField("key", key).Warn("Failed to release notification dedupe key")
	}
}
