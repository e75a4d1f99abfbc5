package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEngine backs the thread store with a networked Redis instance. All
// keys are namespaced under a prefix so multiple bridges can share one
// deployment.
type RedisEngine struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisEngine connects to redisURL and verifies the connection with a
// ping before returning.
func NewRedisEngine(redisURL, keyPrefix string) (*RedisEngine, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if keyPrefix != "" && keyPrefix[len(keyPrefix)-1] != ':' {
		keyPrefix += ":"
	}
	return &RedisEngine{client: client, keyPrefix: keyPrefix}, nil
}

func (r *RedisEngine) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return val, true, nil
}

func (r *RedisEngine) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// ForEach scans all live keys under the prefix. Linear in the number of
// entries; used only by the scan-based reverse lookup.
func (r *RedisEngine) ForEach(ctx context.Context, fn func(key, value string) error) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		val, err := r.client.Get(ctx, full).Result()
		if err == redis.Nil {
			// Expired between scan and get.
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: scan get %s: %v", ErrUnavailable, full, err)
		}
		if err := fn(full[len(r.keyPrefix):], val); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisEngine) Close() error {
	return r.client.Close()
}
