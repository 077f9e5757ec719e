package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Операции движка для гистограммы длительности.
const (
	OperationCreate = "create"
	OperationDelete = "delete"
)

// FulfillmentMetrics содержит метрики создания и удаления заказов.
type FulfillmentMetrics struct {
	// Счётчики заказов
	ordersCreated  prometheus.Counter
	ordersRejected *prometheus.CounterVec
	ordersDeleted  prometheus.Counter

	// Расхождения склада и нарушения инвариантов
	orphanedRestorations *prometheus.CounterVec
	invariantViolations  prometheus.Counter
	faceValueFallbacks   prometheus.Counter

	operationDuration *prometheus.HistogramVec
	inFlight          prometheus.Gauge
}

// NewFulfillmentMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return NewFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewFulfillmentMetricsWithRegisterer регистрирует метрики в указанном реестре (в тестах обычно отдельный реестр).
func NewFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FulfillmentMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_created_total",
			Help: "Total number of orders committed",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_rejected_total",
			Help: "Total number of carts rejected during validation, by reason",
		}, []string{"reason"}),
		ordersDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_deleted_total",
			Help: "Total number of orders deleted with inventory restoration",
		}),
		orphanedRestorations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_restorations_orphaned_total",
			Help: "Restorations whose target account, lot or item no longer exists",
		}, []string{"kind"}),
		invariantViolations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_invariant_violations_total",
			Help: "Commit-phase failures after successful validation",
		}),
		faceValueFallbacks: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_face_value_name_fallback_total",
			Help: "Credit amounts derived from the item display name",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_operation_duration_seconds",
			Help:    "Duration of order create/delete operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation", "result"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_operations_in_flight",
			Help: "Number of order operations currently holding inventory locks",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *FulfillmentMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordOrderRejected учитывает отклонённую корзину с причиной (insufficient, missing_parameter, ...).
func (m *FulfillmentMetrics) RecordOrderRejected(reason string) {
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// RecordOrderDeleted увеличивает счётчик удалённых заказов.
func (m *FulfillmentMetrics) RecordOrderDeleted() {
	m.ordersDeleted.Inc()
}

// RecordOrphanedRestoration учитывает возврат, который некуда применить.
func (m *FulfillmentMetrics) RecordOrphanedRestoration(kind string) {
	m.orphanedRestorations.WithLabelValues(kind).Inc()
}

// RecordInvariantViolation учитывает сбой фазы записи.
func (m *FulfillmentMetrics) RecordInvariantViolation() {
	m.invariantViolations.Inc()
}

// RecordFaceValueFallback учитывает номинал, взятый из названия товара.
func (m *FulfillmentMetrics) RecordFaceValueFallback() {
	m.faceValueFallbacks.Inc()
}

// TrackOperation увеличивает in-flight и возвращает функцию завершения,
// которая записывает длительность с результатом.
func (m *FulfillmentMetrics) TrackOperation(operation string) func(result string) {
	start := time.Now()
	m.inFlight.Inc()
	return func(result string) {
		m.inFlight.Dec()
		m.operationDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
	}
}
