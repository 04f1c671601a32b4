package correlate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyCache maps a correlation key to the id of its most recent open alert,
// short-circuiting the store lookup on the hot ingestion path. Entries
// expire with the correlation window, so a stale hit can only point at an
// alert that is then re-validated against the store. Optional: the engine
// works without one.
type KeyCache interface {
	GetAlertID(ctx context.Context, key string) (string, bool, error)
	SetAlertID(ctx context.Context, key, alertID string, ttl time.Duration) error
}

const keyCachePrefix = "correlate:key:"

// RedisKeyCache is a Redis-backed KeyCache.
type RedisKeyCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisKeyCache creates a Redis key cache.
func NewRedisKeyCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisKeyCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	return &RedisKeyCache{client: client, logger: logger}
}

// Ping tests the Redis connection.
func (c *RedisKeyCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisKeyCache) Close() error {
	return c.client.Close()
}

// GetAlertID returns the cached alert id for a correlation key. A miss is
// (_, false, nil), not an error.
func (c *RedisKeyCache) GetAlertID(ctx context.Context, key string) (string, bool, error) {
	id, err := c.client.Get(ctx, keyCachePrefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		c.logger.Errorf("Failed to get key cache entry for %s: %v", key, err)
		return "", false, err
	}
	return id, true, nil
}

// SetAlertID records the alert id for a correlation key with the given TTL.
func (c *RedisKeyCache) SetAlertID(ctx context.Context, key, alertID string, ttl time.Duration) error {
	err := c.client.Set(ctx, keyCachePrefix+key, alertID, ttl).Err()
	if err != nil {
		c.logger.Errorf("Failed to set key cache entry for %s: %v", key, err)
	}
	return err
}
