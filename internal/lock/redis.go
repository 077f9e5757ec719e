package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	defaultRedisTTL     = 30 * time.Second
	defaultRedisBackoff = 50 * time.Millisecond
	redisKeyPrefix      = "fulfillment:lock:"
)

// Redis: распределённые блокировки на bsm/redislock для нескольких инстансов сервиса.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	logger  *log.Entry
}

// RedisOption настраивает Redis.
type RedisOption func(*Redis)

// WithTTL задаёт время жизни блокировки.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithBackoff задаёт интервал повторных попыток захвата.
func WithBackoff(backoff time.Duration) RedisOption {
	return func(r *Redis) {
		if backoff > 0 {
			r.backoff = backoff
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) RedisOption {
	return func(r *Redis) {
		r.logger = logger
	}
}

// NewRedis создаёт Locker поверх клиента go-redis.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  redislock.New(client),
		ttl:     defaultRedisTTL,
		backoff: defaultRedisBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.WithField("component", "redis-locker")
	}
	return r
}

// Lock захватывает ключи по порядку, повторяя попытки до отмены ctx.
func (r *Redis) Lock(ctx context.Context, keys []string) (func(), error) {
	keys = normalize(keys)
	held := make([]*redislock.Lock, 0, len(keys))

	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// Контекст запроса к этому моменту может быть отменён, освобождаем независимо.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := held[i].Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.WithError(err).WithField("key", held[i].Key()).Warn("failed to release redis lock")
			}
			cancel()
		}
	}

	for _, key := range keys {
		l, err := r.client.Obtain(ctx, redisKeyPrefix+key, r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(r.backoff),
		})
		if err != nil {
			releaseAll()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
			}
			return nil, fmt.Errorf("obtain redis lock %s: %w", key, err)
		}
		held = append(held, l)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		releaseAll()
	}, nil
}

var (
	_ Locker = (*Local)(nil)
	_ Locker = (*Redis)(nil)
)
