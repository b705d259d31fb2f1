// Package cache provides caching and counter infrastructure for the budget chat service.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Counter increments fixed-window counters. The window starts at the first
// increment of a key and the key expires when the window ends.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	// ReleaseWindow gives back one increment if the window is still open.
	ReleaseWindow(ctx context.Context, key string) error
}

// Publisher fans messages out to subscribers of a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

var (
	_ Client    = (*RedisClient)(nil)
	_ Counter   = (*RedisClient)(nil)
	_ Publisher = (*RedisClient)(nil)
	_ Client    = (*MemoryClient)(nil)
	_ Counter   = (*MemoryClient)(nil)
)

// GetJSON reads a cached value and decodes it into dst.
func GetJSON(ctx context.Context, c Client, key string, dst interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes value and stores it with the given TTL.
func SetJSON(ctx context.Context, c Client, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// CacheKey generates a cache key from components.
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// DirectoryKey generates the key for a cached LGU directory snapshot.
func DirectoryKey(kind string) string {
	return CacheKey("dir", kind)
}

// QuotaKey generates the key for a user's quota window counter.
func QuotaKey(userID, route, window string) string {
	return CacheKey("quota", route, userID, window)
}
