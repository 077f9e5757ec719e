package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты публикации события из outbox.
const (
	PublishSent      = "sent"
	PublishRetry     = "retry_error"
	PublishFailed    = "failed"
	PublishDLQFailed = "dlq_failed"
)

// WorkerMetrics содержит метрики фоновых воркеров: публикации outbox и очистки ключей идемпотентности.
type WorkerMetrics struct {
	publishAttempts    *prometheus.CounterVec
	outboxPending      prometheus.Gauge
	outboxOldestAge    prometheus.Gauge
	cleanupRuns        *prometheus.CounterVec
	cleanupDeleted     prometheus.Counter
	cleanupLastDeleted prometheus.Gauge
}

// NewWorkerMetrics регистрирует метрики воркеров в prometheus.DefaultRegisterer.
func NewWorkerMetrics() *WorkerMetrics {
	return NewWorkerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWorkerMetricsWithRegisterer регистрирует метрики воркеров в указанном реестре.
func NewWorkerMetricsWithRegisterer(registerer prometheus.Registerer) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &WorkerMetrics{
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_outbox_publish_attempts_total",
			Help: "Order event publish attempts by event type and result",
		}, []string{"event_type", "result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_outbox_pending_records",
			Help: "Order events waiting in the transactional outbox",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record in seconds",
		}),
		cleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs by result",
		}, []string{"result"}),
		cleanupDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_idempotency_cleanup_deleted_total",
			Help: "Expired idempotency records deleted",
		}),
		cleanupLastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_idempotency_cleanup_last_deleted",
			Help: "Records deleted by the last cleanup run",
		}),
	}
}

// RecordPublish учитывает попытку публикации события с результатом PublishSent, PublishRetry и т.д.
func (m *WorkerMetrics) RecordPublish(eventType, result string) {
	m.publishAttempts.WithLabelValues(eventType, result).Inc()
}

// SetOutboxBacklog выставляет размер backlog и возраст самого старого события.
func (m *WorkerMetrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	m.outboxPending.Set(float64(pending))
	if pending == 0 || oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxOldestAge.Set(oldestAge.Seconds())
}

// RecordCleanupRun учитывает завершённый цикл очистки.
func (m *WorkerMetrics) RecordCleanupRun(deleted int, err error) {
	if deleted > 0 {
		m.cleanupDeleted.Add(float64(deleted))
	}
	if err != nil {
		m.cleanupRuns.WithLabelValues("error").Inc()
		return
	}
	m.cleanupRuns.WithLabelValues("ok").Inc()
	m.cleanupLastDeleted.Set(float64(deleted))
}
