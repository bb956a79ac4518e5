package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisFingerprintCache struct {
	client *redis.Client
}

func NewRedisFingerprintCache(addr string, password string, db int) *RedisFingerprintCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisFingerprintCache{client: client}
}

func (c *RedisFingerprintCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisFingerprintCache) Close() error {
	return c.client.Close()
}

func (c *RedisFingerprintCache) Seen(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisFingerprintCache) Remember(ctx context.Context, key string, saleID string, ttl time.Duration) error {
	return c.client.Set(ctx, key, saleID, ttl).Err()
}
