package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"postboard/internal/middleware"
	"postboard/internal/observability"

	"github.com/redis/go-redis/v9"
)

// FeedKey holds the serialized post feed.
const FeedKey = "posts:feed"

// errStaleFetch aborts a cache fill that raced an invalidation.
var errStaleFetch = errors.New("cache invalidated during fetch")

// versionKey holds the invalidation counter for key.
func versionKey(key string) string {
	return key + ":ver"
}

// Cache is a JSON cache over Redis. A Cache with a nil client is a permanent miss.
type Cache struct {
	client *redis.Client
}

// New wraps client, which may be nil.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	s, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, b, ttl).Err()
}

// Aside tries Redis first; on a miss it calls fetch, which must populate dest, and stores
// the result with ttl. Redis failures fall through to fetch. The result is stored only if
// no Invalidate of key ran while fetch was in flight.
func (c *Cache) Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	if !c.Enabled() {
		return fetch()
	}

	found, err := c.GetJSON(ctx, key, dest)
	switch {
	case err != nil:
		observability.CacheRequests.WithLabelValues("error").Inc()
		middleware.Logger.WarnContext(ctx, "cache read failed; falling back to store",
			slog.String("key", key), slog.String("error", err.Error()))
	case found:
		observability.CacheRequests.WithLabelValues("hit").Inc()
		return nil
	default:
		observability.CacheRequests.WithLabelValues("miss").Inc()
	}

	// Read before fetch so a mutation landing during fetch is detected.
	version, versionErr := c.version(ctx, key)

	if err := fetch(); err != nil {
		return err
	}
	if versionErr != nil {
		return nil
	}

	// Best effort.
	err = c.setIfVersion(ctx, key, dest, ttl, version)
	switch {
	case errors.Is(err, errStaleFetch), errors.Is(err, redis.TxFailedErr):
		observability.CacheRequests.WithLabelValues("stale").Inc()
	case err != nil:
		middleware.Logger.WarnContext(ctx, "cache write failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

func (c *Cache) version(ctx context.Context, key string) (string, error) {
	v, err := c.client.Get(ctx, versionKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return v, err
}

// setIfVersion stores v under key only while the invalidation counter still reads seen.
func (c *Cache) setIfVersion(ctx context.Context, key string, v any, ttl time.Duration, seen string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	vk := versionKey(key)
	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vk).Result()
		if errors.Is(err, redis.Nil) {
			current = "0"
		} else if err != nil {
			return err
		}
		if current != seen {
			return errStaleFetch
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, ttl)
			return nil
		})
		return err
	}, vk)
}

// Invalidate removes keys and bumps their invalidation counters so in-flight fills are
// dropped. Failures are logged, not returned; a stale entry then lives until its TTL.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Incr(ctx, versionKey(key))
			pipe.Del(ctx, key)
		}
		return nil
	})
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "cache invalidation failed",
			slog.Any("keys", keys), slog.String("error", err.Error()))
	}
}

// Ping checks the Redis connection. A disabled cache is always healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
