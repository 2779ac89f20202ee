// Package cache provides the Redis cache in front of the link store on the
// redirect path. The same client carries the click stream and its
// dead-letter stream.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redirect lookups fall back to Postgres on any cache error, so Redis calls
// are kept short rather than retried at length.
const (
	dialTimeout  = 2 * time.Second
	readTimeout  = 500 * time.Millisecond
	writeTimeout = 500 * time.Millisecond
	maxRetries   = 1
)

// Cache wraps a Redis client.
type Cache struct {
	client *redis.Client
}

// New connects to redisURL and verifies the connection.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.DialTimeout = dialTimeout
	opt.ReadTimeout = readTimeout
	opt.WriteTimeout = writeTimeout
	opt.MaxRetries = maxRetries
	// Blocking stream reads set their own deadline.
	opt.ContextTimeoutEnabled = true

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client returns the underlying client for the click stream publisher,
// worker and dead-letter sink.
func (c *Cache) Client() *redis.Client {
	return c.client
}
