package kafka

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

var publishedAtForTest = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func expectTopic(topic, eventType string) mocks.MessageChecker {
	return func(msg *sarama.ProducerMessage) error {
		if msg.Topic != topic {
			return fmt.Errorf("unexpected topic %q, want %q", msg.Topic, topic)
		}
		if got := headerValue(msg, HeaderEventType); got != eventType {
			return fmt.Errorf("unexpected event type header %q", got)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		env, err := ParseOutboxEnvelope(value)
		if err != nil {
			return err
		}
		if env.EventType != eventType {
			return fmt.Errorf("unexpected envelope event type %q", env.EventType)
		}
		return nil
	}
}

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(expectTopic(TopicOrderEvents, domain.EventOrderCreated))

	producer := NewProducerWith(mockProducer, WithProducerLogger(log.WithField("component", "kafka-outbox-publisher-test")))
	publisher := NewOutboxPublisher(producer, "")

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"order_id":"order-123","total":"30"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_RoutesDriftEvents(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(expectTopic(TopicRestorationDrift, domain.EventRestorationDrift))

	publisher := NewOutboxPublisher(NewProducerWith(mockProducer), TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-9",
		EventType:     domain.EventRestorationDrift,
		Payload:       []byte(`{"order_id":"order-9","orphans":[]}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_TopicFor(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, "custom.topic", WithRoute("order.custom", "custom.route"))
	if got := publisher.TopicFor(domain.EventOrderDeleted); got != TopicOrderEvents {
		t.Fatalf("order.deleted routed to %q", got)
	}
	if got := publisher.TopicFor("order.custom"); got != "custom.route" {
		t.Fatalf("custom route ignored, got %q", got)
	}
	if got := publisher.TopicFor("unknown"); got != "custom.topic" {
		t.Fatalf("unknown event must use default topic, got %q", got)
	}

	flat := NewOutboxPublisher(nil, TopicDeadLetterQueue, WithoutRoutes())
	if got := flat.TopicFor(domain.EventRestorationDrift); got != TopicDeadLetterQueue {
		t.Fatalf("expected flat routing to default topic, got %q", got)
	}
}

func TestOutboxPublisher_EmptyPayloadBecomesObject(t *testing.T) {
	t.Parallel()

	env := NewOutboxEnvelope(domain.OutboxMessage{ID: "x", EventType: domain.EventOrderDeleted}, publishedAtForTest)
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	parsed, err := ParseOutboxEnvelope(raw)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if string(parsed.Payload) != "{}" {
		t.Fatalf("expected empty object payload, got %s", parsed.Payload)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerWith(mockProducer), TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-3",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-234",
		EventType:     domain.EventOrderDeleted,
		Payload:       []byte(`{"order_id":"order-234"}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-4"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
