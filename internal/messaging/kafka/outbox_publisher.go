package kafka

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka, выбирая topic по типу события.
type OutboxTopicPublisher struct {
	producer     *Producer
	defaultTopic string
	routes       map[string]string
	now          func() time.Time
}

// PublisherOption настраивает OutboxTopicPublisher.
type PublisherOption func(*OutboxTopicPublisher)

// WithRoute направляет события eventType в topic.
func WithRoute(eventType, topic string) PublisherOption {
	return func(p *OutboxTopicPublisher) {
		if eventType != "" && topic != "" {
			p.routes[eventType] = topic
		}
	}
}

// WithoutRoutes отправляет все события в topic по умолчанию.
func WithoutRoutes() PublisherOption {
	return func(p *OutboxTopicPublisher) {
		p.routes = make(map[string]string)
	}
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// Пустой topic заменяется на TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string, opts ...PublisherOption) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	p := &OutboxTopicPublisher{
		producer:     producer,
		defaultTopic: topic,
		routes:       DefaultRoutes(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TopicFor возвращает topic, в который уйдёт событие eventType.
func (p *OutboxTopicPublisher) TopicFor(eventType string) string {
	if topic, ok := p.routes[eventType]; ok {
		return topic
	}
	return p.defaultTopic
}

// Publish отправляет событие с ключом по заказу, чтобы события одного заказа шли в одну партицию.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderOutboxID:      event.ID,
		HeaderAggregateType: event.AggregateType,
	}
	return p.producer.PublishJSON(p.TopicFor(event.EventType), key, NewOutboxEnvelope(event, p.now()), headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
