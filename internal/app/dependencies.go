package app

import (
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/catalog"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

const tracerName = "github.com/vladislavdragonenkov/fulfillment"

// Dependencies содержит сервисы приложения, собранные поверх хранилища.
type Dependencies struct {
	Store           domain.Store
	OutboxRepo      domain.OutboxRepository
	IdempotencyRepo domain.IdempotencyRepository
	Locker          lock.Locker
	Engine          *fulfillment.Engine
	Catalog         *catalog.Service
	Logger          *log.Entry
}

// NewDependencies собирает сервисы поверх in-memory хранилища.
func NewDependencies(logger *log.Entry) *Dependencies {
	store := memory.NewStore()
	return newDependencies(&runtimeDependencies{
		store:           store,
		outboxRepo:      memory.NewOutboxRepository(store),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		locker:          lock.NewLocal(),
	}, DefaultConfig(), metrics.NewFulfillmentMetrics(), logger)
}

func newDependencies(rt *runtimeDependencies, cfg Config, m *metrics.FulfillmentMetrics, logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	engine := fulfillment.NewEngine(rt.store,
		fulfillment.WithLogger(logger.WithField("component", "fulfillment")),
		fulfillment.WithLocker(rt.locker),
		fulfillment.WithMetrics(m),
		fulfillment.WithTracer(otel.Tracer(tracerName)),
		fulfillment.WithLegacyCreditFallback(cfg.LegacyCreditFallback),
	)

	return &Dependencies{
		Store:           rt.store,
		OutboxRepo:      rt.outboxRepo,
		IdempotencyRepo: rt.idempotencyRepo,
		Locker:          rt.locker,
		Engine:          engine,
		Catalog:         catalog.NewService(rt.store, rt.locker, logger.WithField("component", "catalog")),
		Logger:          logger,
	}
}
