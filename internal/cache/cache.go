// Package cache wraps the shared Redis connection and a small read-through
// cache for remote metadata.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/debridrelay/debridrelay/internal/logger"
)

// Connect opens a Redis client from either a redis:// URL or a host:port
// address and verifies it with PING.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

type Cache struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// New returns a cache storing keys under prefix. A nil client yields a
// cache that always misses.
func New(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix, log: logger.Default().WithComponent("cache")}
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		c.log.Debug(ctx, "cache miss", map[string]interface{}{"key": key})
		return "", false
	}
	if err != nil {
		c.log.Warn(ctx, "cache get failed", map[string]interface{}{"key": key, "error": err.Error()})
		return "", false
	}
	c.log.Debug(ctx, "cache hit", map[string]interface{}{"key": key})
	return val, true
}

func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache set failed", map[string]interface{}{"key": key, "error": err.Error()})
		return err
	}
	return nil
}

// GetJSON decodes a cached JSON value into v.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), v) == nil
}

// SetJSON stores v as JSON.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, string(data), ttl)
}

// Remember returns the cached value for key or loads, stores and returns it.
func Remember[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var v T
	if c.GetJSON(ctx, key, &v) {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	c.SetJSON(ctx, key, v, ttl)
	return v, nil
}
