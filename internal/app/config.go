package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// StorageDriverMemory: хранилище в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres: PostgreSQL через pgx.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int
	PostgresConnMaxLife time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers string

	JWTSecret   string
	CORSOrigins string

	LegacyCreditFallback bool

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int
	OutboxMaxAge       time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,
		PostgresConnMaxLife: 30 * time.Minute,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxPending:   1000,
		OutboxMaxAge:       5 * time.Minute,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfigFromEnv читает переменные окружения поверх DefaultConfig.
// Неразбираемое значение возвращает ошибку с именем переменной.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	l := envLoader{}

	l.str("FULFILLMENT_GRPC_ADDR", &cfg.GRPCAddr)
	l.str("FULFILLMENT_HTTP_ADDR", &cfg.HTTPAddr)
	l.str("FULFILLMENT_METRICS_ADDR", &cfg.MetricsAddr)

	l.str("FULFILLMENT_STORAGE_DRIVER", &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	l.str("FULFILLMENT_POSTGRES_DSN", &cfg.PostgresDSN)
	l.boolean("FULFILLMENT_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	l.integer("FULFILLMENT_POSTGRES_MAX_CONNS", &cfg.PostgresMaxConns)
	l.duration("FULFILLMENT_POSTGRES_CONN_MAX_LIFETIME", &cfg.PostgresConnMaxLife)

	l.str("FULFILLMENT_REDIS_ADDR", &cfg.RedisAddr)
	l.str("FULFILLMENT_REDIS_PASSWORD", &cfg.RedisPassword)
	l.integer("FULFILLMENT_REDIS_DB", &cfg.RedisDB)

	l.str("KAFKA_BROKERS", &cfg.KafkaBrokers)

	l.str("FULFILLMENT_JWT_SECRET", &cfg.JWTSecret)
	l.str("FULFILLMENT_CORS_ORIGINS", &cfg.CORSOrigins)
	l.boolean("FULFILLMENT_LEGACY_CREDIT_FALLBACK", &cfg.LegacyCreditFallback)

	l.duration("FULFILLMENT_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	l.integer("FULFILLMENT_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	l.integer("FULFILLMENT_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	l.duration("FULFILLMENT_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	l.integer("FULFILLMENT_OUTBOX_MAX_PENDING", &cfg.OutboxMaxPending)
	l.duration("FULFILLMENT_OUTBOX_MAX_AGE", &cfg.OutboxMaxAge)

	l.duration("FULFILLMENT_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	l.duration("FULFILLMENT_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	l.integer("FULFILLMENT_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	if l.err != nil {
		return Config{}, l.err
	}
	return cfg, nil
}

// envLoader запоминает первую ошибку разбора и пропускает остальные переменные.
type envLoader struct {
	err error
}

func (l *envLoader) lookup(name string) (string, bool) {
	if l.err != nil {
		return "", false
	}
	v, ok := os.LookupEnv(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (l *envLoader) str(name string, dst *string) {
	if v, ok := l.lookup(name); ok {
		*dst = v
	}
}

func (l *envLoader) boolean(name string, dst *bool) {
	v, ok := l.lookup(name)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		l.err = fmt.Errorf("parse %s: %w", name, err)
		return
	}
	*dst = parsed
}

func (l *envLoader) integer(name string, dst *int) {
	v, ok := l.lookup(name)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		l.err = fmt.Errorf("parse %s: %w", name, err)
		return
	}
	*dst = parsed
}

func (l *envLoader) duration(name string, dst *time.Duration) {
	v, ok := l.lookup(name)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		l.err = fmt.Errorf("parse %s: %w", name, err)
		return
	}
	*dst = parsed
}
