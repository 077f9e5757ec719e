package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents = "fulfillment.order.events"
	// TopicRestorationDrift получает события о возвратах, которые не удалось применить.
	TopicRestorationDrift = "fulfillment.restoration.drift"
	TopicDeadLetterQueue  = "fulfillment.dlq"
)

// Kafka headers, которые дублируют поля конверта для маршрутизации без разбора тела.
const (
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderAggregateType = "x-aggregate-type"
)

// OutboxEnvelope: формат сообщения, в котором событие outbox уходит в Kafka.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewOutboxEnvelope упаковывает сообщение outbox. Пустой payload заменяется на {}.
func NewOutboxEnvelope(msg domain.OutboxMessage, publishedAt time.Time) OutboxEnvelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return OutboxEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		OccurredAt:    msg.CreatedAt,
		PublishedAt:   publishedAt,
	}
}

// ParseOutboxEnvelope разбирает значение сообщения Kafka.
func ParseOutboxEnvelope(value []byte) (OutboxEnvelope, error) {
	var env OutboxEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return OutboxEnvelope{}, fmt.Errorf("failed to unmarshal outbox envelope: %w", err)
	}
	if env.EventType == "" {
		return OutboxEnvelope{}, fmt.Errorf("outbox envelope %q has no event type", env.ID)
	}
	return env, nil
}

// DefaultRoutes направляет события о расхождениях в отдельный topic, остальные в TopicOrderEvents.
func DefaultRoutes() map[string]string {
	return map[string]string{
		domain.EventOrderCreated:     TopicOrderEvents,
		domain.EventOrderDeleted:     TopicOrderEvents,
		domain.EventRestorationDrift: TopicRestorationDrift,
	}
}
