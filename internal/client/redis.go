package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the go-redis client for the analysis cache and the rate
// limit counters.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client from URL.
// URL format: redis://[:password@]host:port/db
func NewRedisClient(url string) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// GetJSON loads key into dest. It reports false when the key does not exist.
func (r *RedisClient) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores value under key with a TTL.
func (r *RedisClient) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// IncrWindow increments a fixed-window counter. The first hit of a window
// starts its expiry; the returned duration is the time left in the window.
func (r *RedisClient) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		return count, window, nil
	}

	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	// A counter without expiry would never reset.
	if ttl < 0 {
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = window
	}
	return count, ttl, nil
}

// Ping checks Redis connectivity.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
