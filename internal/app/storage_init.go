package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

const redisPingTimeout = 3 * time.Second

// runtimeDependencies: хранилище, репозитории и блокировки, выбранные по конфигурации.
type runtimeDependencies struct {
	store           domain.Store
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	locker          lock.Locker

	storageChecker healthcheck.Checker
	redisChecker   healthcheck.Checker

	closeFn func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := initLocker(ctx, cfg, deps, logger); err != nil {
		if deps.closeFn != nil {
			err = errors.Join(err, deps.closeFn())
		}
		return nil, err
	}
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		store := memory.NewStore()
		logger.WithField("driver", driver).Info("storage initialized")
		return &runtimeDependencies{
			store:           store,
			outboxRepo:      memory.NewOutboxRepository(store),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  healthcheck.NewPingChecker("storage", store),
		}, nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage requires FULFILLMENT_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithPool(postgres.PoolConfig{
			MaxOpenConns:    cfg.PostgresMaxConns,
			ConnMaxLifetime: cfg.PostgresConnMaxLife,
		}))
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		logger.WithFields(log.Fields{
			"driver":       driver,
			"auto_migrate": cfg.PostgresAutoMigrate,
			"max_conns":    cfg.PostgresMaxConns,
		}).Info("storage initialized")
		return &runtimeDependencies{
			store:           store,
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.NewPingChecker("storage", store),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// initLocker выбирает Redis-блокировки, если задан FULFILLMENT_REDIS_ADDR, иначе локальные.
func initLocker(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		deps.locker = lock.NewLocal()
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}

	deps.locker = lock.NewRedis(client, lock.WithLogger(logger.WithField("component", "redis-locker")))
	deps.redisChecker = healthcheck.NewFuncChecker("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	storageClose := deps.closeFn
	deps.closeFn = func() error {
		err := client.Close()
		if storageClose != nil {
			err = errors.Join(err, storageClose())
		}
		return err
	}
	logger.WithField("redis_addr", cfg.RedisAddr).Info("redis locker initialized")
	return nil
}

