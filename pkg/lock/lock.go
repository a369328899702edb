// Package lock keeps two workers from dumping the same record at once.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
)

const keyPrefix = "event-sink-clickhouse:lock:"

// ReleaseFunc releases a held lock.
type ReleaseFunc func(ctx context.Context) error

// Locker acquires named locks.
type Locker interface {
	// Acquire takes the lock for key. When another holder has it the error is
	// of type errors.ErrorTypeLocked.
	Acquire(ctx context.Context, key string) (ReleaseFunc, error)
}

// NopLocker grants every lock. It is used when Redis is not configured.
type NopLocker struct{}

// Acquire always succeeds
func (NopLocker) Acquire(context.Context, string) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}

// releaseScript deletes the key only while it still holds our token, so a lock
// that expired and was taken by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds locks as Redis keys with a TTL.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLocker wraps an existing client
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger.With(zap.String("component", "lock"))}
}

// Dial connects to the configured Redis and checks it answers.
func Dial(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("redis ping %s", cfg.Addr))
	}
	return NewRedisLocker(client, cfg.LockTTL, logger), nil
}

// Acquire sets the lock key if absent. The lock expires after the TTL even if
// it is never released.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (ReleaseFunc, error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire lock").
			WithDetail("key", key)
	}
	if !ok {
		return nil, errors.New(errors.ErrorTypeLocked, "lock is held by another worker").
			WithDetail("key", key)
	}
	l.logger.Debug("lock acquired", zap.String("key", key))

	return func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to release lock").
				WithDetail("key", key)
		}
		if deleted == 0 {
			l.logger.Warn("lock expired before release", zap.String("key", key))
		}
		return nil
	}, nil
}

// Close closes the Redis client
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
