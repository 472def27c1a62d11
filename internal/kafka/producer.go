package kafka

import (
	"encoding/json"
	"fmt"

	"household-planet/internal/config"
	"household-planet/internal/logger"
	"household-planet/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Producer публикует доменные события в Kafka.
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topics   *config.Topics
}

// NewProducer создает синхронного продюсера с подтверждением от всех реплик.
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.WithField("brokers", cfg.Brokers).Info("Kafka producer created")

	topics := cfg.Topics
	return &Producer{
		producer: producer,
		log:      log,
		topics:   &topics,
	}, nil
}

// Close закрывает продюсера
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// PublishOrderCreated публикует событие создания заказа
func (p *Producer) PublishOrderCreated(order *models.Order) error {
	event, err := models.NewEvent(models.EventTypeOrderCreated, orderCreatedData(order))
	if err != nil {
		return err
	}
	return p.publishEvent(p.topics.Orders, order.ID.String(), event)
}

func orderCreatedData(order *models.Order) models.OrderCreatedData {
	return models.OrderCreatedData{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
		CustomerEmail: order.CustomerEmail,
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
	}
}

// PublishOrderStatusChanged публикует событие изменения статуса заказа
func (p *Producer) PublishOrderStatusChanged(orderID uuid.UUID, orderNumber string, oldStatus, newStatus models.OrderStatus, notes *string) error {
	event, err := models.NewEvent(models.EventTypeOrderStatusChanged, models.OrderStatusChangedData{
		OrderID:     orderID,
		OrderNumber: orderNumber,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		Notes:       notes,
	})
	if err != nil {
		return err
	}
	return p.publishEvent(p.topics.Orders, orderID.String(), event)
}

// PublishPaymentStatusChanged публикует смену статуса оплаты.
func (p *Producer) PublishPaymentStatusChanged(data models.PaymentStatusChangedData) error {
	event, err := models.NewEvent(models.EventTypePaymentStatusChanged, data)
	if err != nil {
		return err
	}
	return p.publishEvent(p.topics.Payments, data.OrderID.String(), event)
}

// PublishPromoRedeemed публикует погашение промокода.
func (p *Producer) PublishPromoRedeemed(data models.PromoRedeemedData) error {
	event, err := models.NewEvent(models.EventTypePromoRedeemed, data)
	if err != nil {
		return err
	}
	return p.publishEvent(p.topics.Orders, data.OrderID.String(), event)
}

// PublishNotificationDispatched фиксирует отправленные уведомления в отдельном топике.
func (p *Producer) PublishNotificationDispatched(data models.NotificationDispatchedData) error {
	event, err := models.NewEvent(models.EventTypeNotificationDispatched, data)
	if err != nil {
		return err
	}
	return p.publishEvent(p.topics.Notifications, data.OrderID.String(), event)
}

// publishEvent отправляет событие. Ключ сообщения — ID заказа, чтобы события одного заказа шли по порядку.
func (p *Producer) publishEvent(topic, key string, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(eventTypeHeader), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.WithError(err).WithFields(map[string]interface{}{
			"topic":      topic,
			"event_type": event.Type,
			"event_id":   event.ID,
		}).Error("Failed to publish event")
		return fmt.Errorf("failed to send message to %s: %w", topic, err)
	}

	p.log.WithFields(map[string]interface{}{
		"topic":      topic,
		"partition":  partition,
		"offset":     offset,
		"event_type": event.Type,
		"event_id":   event.ID,
	}).Debug("Event published")

	return nil
}
