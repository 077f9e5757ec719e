package app

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/httpapi"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const grpcStopTimeout = 5 * time.Second

// Run поднимает хранилище, фоновые воркеры, HTTP API, gRPC health и служебный HTTP
// и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	rt, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if rt.closeFn == nil {
			return
		}
		if err := rt.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	deps := newDependencies(rt, cfg, metrics.NewFulfillmentMetrics(), logger)

	// Без Kafka сервис продолжает работу: события outbox уходят в лог.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafkaProducer(kafkaProducer, logger)
	publisher, dlqPublisher := initOutboxPublishers(kafkaProducer, logger)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	workersDone := startWorkers(workerCtx, cfg, deps, publisher, dlqPublisher, logger)
	defer shutdownWorkers(cancelWorkers, workersDone, logger)

	healthHandler := healthcheck.NewHandler(version.Get().Version)
	healthHandler.RegisterChecker("storage", rt.storageChecker)
	if rt.redisChecker != nil {
		healthHandler.RegisterChecker("redis", rt.redisChecker)
	}
	healthHandler.RegisterChecker("outbox", healthcheck.NewBacklogChecker(
		"outbox", rt.outboxRepo.Stats, cfg.OutboxMaxAge,
	).WithMaxPending(cfg.OutboxMaxPending))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	api := httpapi.NewServer(deps.Engine, deps.Catalog,
		httpapi.WithJWTSecret(cfg.JWTSecret),
		httpapi.WithIdempotency(deps.IdempotencyRepo, cfg.IdempotencyTTL),
		httpapi.WithAllowedOrigins(httpapi.SplitOrigins(cfg.CORSOrigins)),
		httpapi.WithLogger(logger.WithField("component", "http-api")),
	)
	if cfg.JWTSecret == "" {
		logger.Warn("FULFILLMENT_JWT_SECRET is empty, every API request will be rejected as unauthenticated")
	}

	errCh := make(chan error, 2)
	apiSrv := startAPIServer(cfg.HTTPAddr, api.Router(), logger, errCh)
	defer shutdownHTTP(apiSrv, logger)

	grpcServer, healthServer := newGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go func() {
		logger.WithField("addr", cfg.GRPCAddr).Info("grpc server listening")
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested, stopping servers")
		stopGRPC(grpcServer, healthServer, logger)
		return ctx.Err()
	case err := <-errCh:
		stopGRPC(grpcServer, healthServer, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newGRPCServer создаёт gRPC-сервер со стандартным health-сервисом и метриками вызовов.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	return grpcServer, healthServer
}

func stopGRPC(grpcServer *grpc.Server, healthServer *health.Server, logger *log.Entry) {
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grpcStopTimeout):
		logger.WithField("timeout", grpcStopTimeout).Warn("grpc graceful stop timed out, forcing stop")
		grpcServer.Stop()
	}
}

// startWorkers запускает outbox publisher и очистку ключей идемпотентности.
// Канал закрывается, когда оба воркера вышли.
func startWorkers(
	ctx context.Context,
	cfg Config,
	deps *Dependencies,
	publisher, dlqPublisher domain.OutboxPublisher,
	logger *log.Entry,
) <-chan struct{} {
	workerMetrics := metrics.NewWorkerMetrics()
	options := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(workerMetrics),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlqPublisher != nil {
		options = append(options, outbox.WithDLQPublisher(dlqPublisher))
	}
	outboxWorker := outbox.NewWorker(deps.OutboxRepo, publisher, options...)

	cleanupWorker := idempotency.NewCleanupWorker(deps.IdempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithMetrics(workerMetrics),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outboxWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanupWorker.Run(ctx)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// shutdownWorkers отменяет контекст воркеров и ждёт их завершения.
func shutdownWorkers(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info("background workers stopped")
	case <-time.After(httpShutdownTimeout):
		logger.Warn("background workers did not stop in time")
	}
}
