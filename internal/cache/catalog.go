// Package cache provides an optional Redis-backed catalog cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mhollis/bookstore/internal/bookstore/book"
	"github.com/mhollis/bookstore/pkg/logger"
)

const (
	keyAvailable = "catalog:books:available"
	keyAll       = "catalog:books:all"
)

// Catalog caches book listings in Redis. A nil *Catalog is a valid no-op
// cache, so callers never need to branch on whether caching is enabled.
type Catalog struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewCatalog connects to Redis at addr. An empty addr disables caching by
// returning nil.
func NewCatalog(ctx context.Context, addr string, ttl time.Duration) (*Catalog, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Catalog{client: client, ttl: ttl, log: logger.NewDefault("cache")}, nil
}

func listKey(includeUnavailable bool) string {
	if includeUnavailable {
		return keyAll
	}
	return keyAvailable
}

// GetBooks returns the cached listing, reporting whether it was present.
// Cache errors are logged and treated as misses.
func (c *Catalog) GetBooks(ctx context.Context, includeUnavailable bool) ([]book.Book, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, listKey(includeUnavailable)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).Warn("catalog cache read failed")
		}
		return nil, false
	}
	var books []book.Book
	if err := json.Unmarshal(data, &books); err != nil {
		c.log.WithError(err).Warn("corrupt catalog cache entry")
		return nil, false
	}
	return books, true
}

// SetBooks stores a listing with the configured TTL.
func (c *Catalog) SetBooks(ctx context.Context, includeUnavailable bool, books []book.Book) {
	if c == nil {
		return
	}
	data, err := json.Marshal(books)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, listKey(includeUnavailable), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("catalog cache write failed")
	}
}

// Invalidate drops all cached listings. Called on any catalog mutation.
func (c *Catalog) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, keyAvailable, keyAll).Err(); err != nil {
		c.log.WithError(err).Warn("catalog cache invalidation failed")
	}
}

// Close releases the Redis connection.
func (c *Catalog) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
