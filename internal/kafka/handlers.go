package kafka

import (
	"context"
	"sync"
	"time"

	"household-planet/internal/models"
)

// EventHandler обрабатывает событие определённого типа.
type EventHandler func(ctx context.Context, event *models.Event) error

const defaultHandlerTimeout = 30 * time.Second

// handlerSet хранит обработчики по типу события. Общий для Consumer и LocalBus.
type handlerSet struct {
	mu       sync.RWMutex
	handlers map[models.EventType]EventHandler
}

// RegisterHandler регистрирует обработчик для типа события
func (s *handlerSet) RegisterHandler(eventType models.EventType, handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[models.EventType]EventHandler)
	}
	s.handlers[eventType] = handler
}

func (s *handlerSet) handler(eventType models.EventType) EventHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[eventType]
}

func eventFields(event *models.Event) map[string]interface{} {
	return map[string]interface{}{
		"event_type": event.Type,
		"event_id":   event.ID,
	}
}
