package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/fieldlmis/stocksync/pkg/config"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "stocksync:checkpoint:"

// RedisBackend stores checkpoints as plain Redis strings without expiry
type RedisBackend struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisBackend creates a backend with an existing client
func NewRedisBackend(client redis.Cmdable, keyPrefix string) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisBackend{client: client, keyPrefix: keyPrefix}
}

// Get returns the value stored under key
func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := b.client.Get(ctx, b.keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read checkpoint %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key
func (b *RedisBackend) Set(ctx context.Context, key, value string) error {
	if err := b.client.Set(ctx, b.keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", key, err)
	}
	return nil
}
