package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"household-planet/internal/config"
	"household-planet/internal/logger"
	"household-planet/internal/models"

	"github.com/IBM/sarama"
)

const (
	maxHandlerAttempts = 3
	handlerRetryDelay  = 200 * time.Millisecond
	eventTypeHeader    = "event_type"
)

// Consumer читает события заказов и платежей в составе consumer group.
// Обработчик вызывается до maxHandlerAttempts раз; уведомления дедуплицируются
// на стороне диспетчера, поэтому повтор безопасен. Смещение фиксируется и после
// неудачи, чтобы одно событие не блокировало партицию.
type Consumer struct {
	handlerSet
	group      sarama.ConsumerGroup
	log        *logger.Logger
	topics     []string
	timeout    time.Duration
	retryDelay time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewConsumer создает участника consumer group, подписанного на топики заказов и платежей.
// Топик уведомлений сервис только пишет.
func NewConsumer(cfg *config.KafkaConfig, log *logger.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	c := newConsumer(group, log, []string{cfg.Topics.Orders, cfg.Topics.Payments})
	log.WithFields(map[string]interface{}{
		"group_id": cfg.GroupID,
		"topics":   c.topics,
	}).Info("Kafka consumer created")

	return c, nil
}

func newConsumer(group sarama.ConsumerGroup, log *logger.Logger, topics []string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		group:      group,
		log:        log,
		topics:     topics,
		timeout:    defaultHandlerTimeout,
		retryDelay: handlerRetryDelay,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start запускает цикл чтения и вывод ошибок группы в лог.
func (c *Consumer) Start() error {
	if c.group == nil {
		return errors.New("consumer group is not initialized")
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.log.WithError(err).Error("Kafka consumer group error")
		}
	}()
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при ребалансировке
			if err := c.group.Consume(c.ctx, c.topics, c); err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
				if c.ctx.Err() == nil {
					c.log.WithError(err).Error("Kafka consume error")
				}
			}
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}()

	c.log.WithField("topics", c.topics).Info("Kafka consumer started")
	return nil
}

// Stop останавливает чтение и закрывает группу.
func (c *Consumer) Stop() error {
	c.cancel()
	if c.group == nil {
		return nil
	}
	// Close закрывает канал Errors, после этого горутины завершаются
	err := c.group.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	c.log.Info("Kafka consumer stopped")
	return nil
}

// Setup вызывается sarama в начале новой сессии.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается sarama в конце сессии.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения партиции по порядку: ключ сообщения — ID заказа.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.processMessage(msg); err != nil {
				c.log.WithError(err).WithFields(map[string]interface{}{
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
					"order_id":  string(msg.Key),
				}).Error("Failed to process Kafka message")
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) processMessage(msg *sarama.ConsumerMessage) error {
	// по заголовку отбрасываем события без обработчика, не разбирая тело
	if eventType := headerEventType(msg); eventType != "" && c.handler(eventType) == nil {
		return nil
	}

	var event models.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	handler := c.handler(event.Type)
	if handler == nil {
		c.log.WithField("event_type", event.Type).Debug("No handler registered for event")
		return nil
	}
	return c.handle(handler, &event)
}

func (c *Consumer) handle(handler EventHandler, event *models.Event) error {
	var err error
	for attempt := 1; attempt <= maxHandlerAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		err = handler(ctx, event)
		cancel()
		if err == nil {
			c.log.WithFields(eventFields(event)).Debug("Event processed")
			return nil
		}
		if attempt == maxHandlerAttempts {
			break
		}

		c.log.WithError(err).WithFields(eventFields(event)).WithField("attempt", attempt).Warn("Event handler failed, retrying")
		select {
		case <-c.ctx.Done():
			return fmt.Errorf("handler for %s interrupted: %w", event.Type, err)
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("handler for %s failed after %d attempts: %w", event.Type, maxHandlerAttempts, err)
}

func headerEventType(msg *sarama.ConsumerMessage) models.EventType {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == eventTypeHeader {
			return models.EventType(h.Value)
		}
	}
	return ""
}
