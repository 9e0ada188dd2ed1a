package identifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

var _ Seeder = (*RedisAllocator)(nil)

// RedisAllocator shares sequences between filer replicas with INCR.
type RedisAllocator struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisAllocator uses keys "<keyPrefix>:<prefix>"; keyPrefix defaults to
// "entityfiler:identifier".
func NewRedisAllocator(client *redis.Client, keyPrefix string) *RedisAllocator {
	if keyPrefix == "" {
		keyPrefix = "entityfiler:identifier"
	}
	return &RedisAllocator{client: client, keyPrefix: keyPrefix}
}

// Key returns the counter key for an identifier prefix.
func (a *RedisAllocator) Key(prefix string) string {
	return a.keyPrefix + ":" + prefix
}

// Seed raises the counter for prefix to at least last.
func (a *RedisAllocator) Seed(ctx context.Context, prefix string, last int64) error {
	key := a.Key(prefix)
	_, err := a.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SetNX(ctx, key, 0, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed %s: %w", key, err)
	}
	current, err := a.client.Get(ctx, key).Int64()
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if current >= last {
		return nil
	}
	if _, err := a.client.IncrBy(ctx, key, last-current).Result(); err != nil {
		return fmt.Errorf("seed %s: %w", key, err)
	}
	return nil
}

// Next allocates the next identifier for legalType.
func (a *RedisAllocator) Next(ctx context.Context, legalType string) (string, error) {
	prefix, err := Prefix(legalType)
	if err != nil {
		return "", err
	}
	n, err := a.client.Incr(ctx, a.Key(prefix)).Result()
	if err != nil {
		return "", fmt.Errorf("allocate %s identifier: %w", prefix, err)
	}
	return Format(prefix, n)
}

// Ping checks connectivity for readiness probes.
func (a *RedisAllocator) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}
