package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Типы событий заказа, которые пишутся в outbox.
const (
	AggregateOrder        = "order"
	EventOrderCreated     = "order.created"
	EventOrderDeleted     = "order.deleted"
	EventRestorationDrift = "order.restoration_orphaned"
)

// OutboxMessage событие, записанное в той же транзакции, что и изменение заказа.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// IsOrderEvent сообщает, знает ли сервис такой тип события заказа.
func IsOrderEvent(eventType string) bool {
	switch eventType {
	case EventOrderCreated, EventOrderDeleted, EventRestorationDrift:
		return true
	}
	return false
}

// NewOrderEvent собирает outbox-сообщение по заказу, сериализуя payload в JSON.
func NewOrderEvent(id, orderID, eventType string, payload any, at time.Time) (OutboxMessage, error) {
	if !IsOrderEvent(eventType) {
		return OutboxMessage{}, fmt.Errorf("unknown order event type %q", eventType)
	}
	if orderID == "" {
		return OutboxMessage{}, fmt.Errorf("%s event without order id", eventType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		ID:            id,
		AggregateType: AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     at.UTC(),
	}, nil
}

// OutboxStats срез backlog: сколько событий ждут отправки и когда записано самое старое.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OldestAge возраст самого старого неотправленного события; ноль при пустом backlog.
func (s OutboxStats) OldestAge(now time.Time) time.Duration {
	if s.PendingCount == 0 || s.OldestPendingAt.IsZero() {
		return 0
	}
	if age := now.Sub(s.OldestPendingAt); age > 0 {
		return age
	}
	return 0
}
