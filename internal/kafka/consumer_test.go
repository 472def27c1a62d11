package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"household-planet/internal/config"
	"household-planet/internal/logger"
	"household-planet/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestConsumer(group sarama.ConsumerGroup) *Consumer {
	c := newConsumer(group, logger.Discard(), []string{"orders", "payments"})
	c.retryDelay = time.Millisecond
	return c
}

func paymentMessage(t *testing.T, data models.PaymentStatusChangedData) *sarama.ConsumerMessage {
	t.Helper()
	ev, err := models.NewEvent(models.EventTypePaymentStatusChanged, data)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	value, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{
		Topic: "payments",
		Key:   []byte(data.OrderID.String()),
		Value: value,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(eventTypeHeader), Value: []byte(models.EventTypePaymentStatusChanged)},
		},
	}
}

func TestConsumer_PaymentPaidReachesHandler(t *testing.T) {
	c := newTestConsumer(nil)

	orderID := uuid.New()
	var got models.PaymentStatusChangedData
	c.RegisterHandler(models.EventTypePaymentStatusChanged, func(ctx context.Context, event *models.Event) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("handler context must carry a deadline")
		}
		return event.Decode(&got)
	})

	msg := paymentMessage(t, models.PaymentStatusChangedData{
		OrderID:     orderID,
		OrderNumber: "HP-1700000000000-ABC123",
		OldStatus:   models.PaymentStatusPending,
		NewStatus:   models.PaymentStatusPaid,
		Amount:      decimal.NewFromInt(2600),
	})
	if err := c.processMessage(msg); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if got.OrderID != orderID || got.OrderNumber != "HP-1700000000000-ABC123" || got.NewStatus != models.PaymentStatusPaid {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestConsumer_SkipsEventsWithoutHandler(t *testing.T) {
	c := newTestConsumer(nil)
	c.RegisterHandler(models.EventTypePaymentStatusChanged, func(context.Context, *models.Event) error {
		t.Fatalf("payment handler must not run for a notification event")
		return nil
	})

	tests := []struct {
		name string
		msg  *sarama.ConsumerMessage
	}{
		{
			// тело не разбирается, если тип известен из заголовка
			name: "typed by header",
			msg: &sarama.ConsumerMessage{
				Topic: "notifications",
				Value: []byte("not json"),
				Headers: []*sarama.RecordHeader{
					{Key: []byte(eventTypeHeader), Value: []byte(models.EventTypeNotificationDispatched)},
				},
			},
		},
		{
			name: "typed by body",
			msg: func() *sarama.ConsumerMessage {
				data, _ := json.Marshal(models.Event{ID: uuid.New(), Type: models.EventTypePromoRedeemed})
				return &sarama.ConsumerMessage{Topic: "orders", Value: data}
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.processMessage(tt.msg); err != nil {
				t.Fatalf("expected skip, got %v", err)
			}
		})
	}
}

func TestConsumer_InvalidJSON(t *testing.T) {
	c := newTestConsumer(nil)
	c.RegisterHandler(models.EventTypeOrderCreated, func(context.Context, *models.Event) error { return nil })

	msg := &sarama.ConsumerMessage{Topic: "orders", Value: []byte("not json")}
	if err := c.processMessage(msg); err == nil {
		t.Fatalf("expected unmarshal error")
	}
}

func TestConsumer_RetriesFailedHandler(t *testing.T) {
	c := newTestConsumer(nil)

	calls := 0
	c.RegisterHandler(models.EventTypePaymentStatusChanged, func(context.Context, *models.Event) error {
		calls++
		if calls < maxHandlerAttempts {
			return errors.New("sms gateway timeout")
		}
		return nil
	})

	msg := paymentMessage(t, models.PaymentStatusChangedData{OrderID: uuid.New(), NewStatus: models.PaymentStatusPaid})
	if err := c.processMessage(msg); err != nil {
		t.Fatalf("expected success on last attempt, got %v", err)
	}
	if calls != maxHandlerAttempts {
		t.Fatalf("expected %d calls, got %d", maxHandlerAttempts, calls)
	}
}

func TestConsumer_GivesUpAfterMaxAttempts(t *testing.T) {
	c := newTestConsumer(nil)

	calls := 0
	gatewayDown := errors.New("sms gateway down")
	c.RegisterHandler(models.EventTypePaymentStatusChanged, func(context.Context, *models.Event) error {
		calls++
		return gatewayDown
	})

	msg := paymentMessage(t, models.PaymentStatusChangedData{OrderID: uuid.New(), NewStatus: models.PaymentStatusPaid})
	err := c.processMessage(msg)
	if !errors.Is(err, gatewayDown) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
	if calls != maxHandlerAttempts {
		t.Fatalf("expected %d calls, got %d", maxHandlerAttempts, calls)
	}
}

func TestConsumer_StopInterruptsRetries(t *testing.T) {
	c := newTestConsumer(nil)
	c.retryDelay = time.Hour

	calls := 0
	c.RegisterHandler(models.EventTypePaymentStatusChanged, func(context.Context, *models.Event) error {
		calls++
		c.cancel()
		return errors.New("sms gateway down")
	})

	msg := paymentMessage(t, models.PaymentStatusChangedData{OrderID: uuid.New(), NewStatus: models.PaymentStatusPaid})
	if err := c.processMessage(msg); err == nil {
		t.Fatalf("expected error after shutdown")
	}
	if calls != 1 {
		t.Fatalf("expected no retry after shutdown, got %d calls", calls)
	}
}

type mockConsumerGroup struct {
	mu     sync.Mutex
	topics []string
	calls  int
	closed bool
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	m.mu.Lock()
	m.calls++
	m.topics = topics
	m.mu.Unlock()
	_ = handler.Setup(nil)
	<-ctx.Done()
	return ctx.Err()
}
func (m *mockConsumerGroup) Errors() <-chan error      { ch := make(chan error); close(ch); return ch }
func (m *mockConsumerGroup) Close() error              { m.closed = true; return nil }
func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []int64
}

func (m *mockSession) Claims() map[string][]int32                                               { return nil }
func (m *mockSession) MemberID() string                                                         { return "" }
func (m *mockSession) GenerationID() int32                                                      { return 0 }
func (m *mockSession) MarkOffset(topic string, partition int32, offset int64, metadata string)  {}
func (m *mockSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {}
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string)                 { m.marked = append(m.marked, msg.Offset) }
func (m *mockSession) Commit()                                                                  {}
func (m *mockSession) Context() context.Context                                                 { return m.ctx }

type mockClaim struct {
	msgs chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string              { return "payments" }
func (m *mockClaim) Partition() int32           { return 0 }
func (m *mockClaim) InitialOffset() int64       { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64 { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage {
	return m.msgs
}

func TestConsumer_StartStop(t *testing.T) {
	group := &mockConsumerGroup{}
	c := newTestConsumer(group)

	if err := c.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := c.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	group.mu.Lock()
	defer group.mu.Unlock()
	if group.calls == 0 || !group.closed {
		t.Fatalf("expected Consume and Close, got calls=%d closed=%v", group.calls, group.closed)
	}
	if len(group.topics) != 2 || group.topics[0] != "orders" || group.topics[1] != "payments" {
		t.Fatalf("unexpected topics %v", group.topics)
	}
}

func TestConsumer_StartWithoutGroup(t *testing.T) {
	c := newTestConsumer(nil)
	if err := c.Start(); err == nil {
		t.Fatalf("expected error without consumer group")
	}
}

func TestConsumer_ConsumeClaimMarksFailedMessages(t *testing.T) {
	c := newTestConsumer(nil)

	var handled []string
	c.RegisterHandler(models.EventTypePaymentStatusChanged, func(_ context.Context, event *models.Event) error {
		var data models.PaymentStatusChangedData
		if err := event.Decode(&data); err != nil {
			return err
		}
		handled = append(handled, data.OrderNumber)
		if data.OrderNumber == "HP-1-BROKEN" {
			return errors.New("sms gateway down")
		}
		return nil
	})

	msgs := make(chan *sarama.ConsumerMessage, 2)
	broken := paymentMessage(t, models.PaymentStatusChangedData{OrderID: uuid.New(), OrderNumber: "HP-1-BROKEN", NewStatus: models.PaymentStatusPaid})
	broken.Offset = 7
	ok := paymentMessage(t, models.PaymentStatusChangedData{OrderID: uuid.New(), OrderNumber: "HP-2-ABCDEF", NewStatus: models.PaymentStatusPaid})
	ok.Offset = 8
	msgs <- broken
	msgs <- ok
	close(msgs)

	session := &mockSession{ctx: context.Background()}
	if err := c.ConsumeClaim(session, &mockClaim{msgs: msgs}); err != nil {
		t.Fatalf("consume claim failed: %v", err)
	}

	// сломанное событие не держит партицию
	if len(session.marked) != 2 || session.marked[0] != 7 || session.marked[1] != 8 {
		t.Fatalf("expected both offsets marked, got %v", session.marked)
	}
	if len(handled) != maxHandlerAttempts+1 || handled[len(handled)-1] != "HP-2-ABCDEF" {
		t.Fatalf("unexpected handling order %v", handled)
	}
}

func TestNewConsumer_BrokerUnavailable(t *testing.T) {
	cfg := &config.KafkaConfig{
		Brokers: []string{"localhost:0"},
		GroupID: "household-planet",
		Topics:  config.Topics{Orders: "orders", Payments: "payments", Notifications: "notifications"},
	}
	if _, err := NewConsumer(cfg, logger.Discard()); err == nil {
		t.Fatalf("expected error creating consumer")
	}
}
