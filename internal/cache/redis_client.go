// Package cache provides the optional embedding cache behind the memory
// engine: a Redis client for shared deployments and an in-memory client
// for single-process use.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sematica-ai/memory-engine/internal/config"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}

// New builds the cache backend selected by configuration, or nil when
// caching is disabled.
func New(cfg config.CacheConfig) (Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case "redis":
		return NewRedisClient(cfg.RedisURL)
	case "memory":
		return NewMemoryClient(0), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// RedisClient implements cache using Redis. All keys carry the "mem:"
// prefix so the engine can share an instance with other services.
type RedisClient struct {
	client *redis.Client
	prefix string
}

// NewRedisClient connects to Redis using a redis:// URL and verifies the
// connection with a ping.
func NewRedisClient(url string) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisClient{client: client, prefix: "mem:"}, nil
}

// Get retrieves a value from cache.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores a value in cache with TTL.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a value from cache.
func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// DeleteByPrefix removes all keys with the given prefix.
func (c *RedisClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	pattern := c.prefix + prefix + "*"
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis delete by prefix: %w", err)
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}

	return nil
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// MemoryClient implements an in-memory cache for single-process use.
type MemoryClient struct {
	mu      sync.RWMutex
	data    map[string]cacheEntry
	maxSize int
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryClient creates a new in-memory cache client.
func NewMemoryClient(maxSize int) *MemoryClient {
	if maxSize <= 0 {
		maxSize = 10000
	}

	c := &MemoryClient{
		data:    make(map[string]cacheEntry),
		maxSize: maxSize,
	}

	go c.cleanup()

	return c
}

// Get retrieves a value from cache.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}

	if time.Now().After(entry.expiresAt) {
		return nil, ErrCacheMiss
	}

	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.data) >= c.maxSize {
		c.evictOldest()
	}

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}

	return nil
}

// Delete removes a value from cache.
func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// DeleteByPrefix removes all keys with the given prefix.
func (c *MemoryClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
		}
	}

	return nil
}

// Close is a no-op for memory cache.
func (c *MemoryClient) Close() error {
	return nil
}

// evictOldest removes the entry with the earliest expiration.
func (c *MemoryClient) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.data {
		if oldestKey == "" || entry.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expiresAt
		}
	}

	if oldestKey != "" {
		delete(c.data, oldestKey)
	}
}

// cleanup periodically removes expired entries.
func (c *MemoryClient) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, entry := range c.data {
			if now.After(entry.expiresAt) {
				delete(c.data, key)
			}
		}
		c.mu.Unlock()
	}
}
