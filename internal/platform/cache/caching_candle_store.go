// Package cache provides caching implementations for store interfaces.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"twstock_backend/internal/feature/candles/domain/entity"
	"twstock_backend/internal/feature/candles/usecase"
)

// CachingCandleStore decorates a CandleStore with a Redis read-through cache for ReadRange.
// Writes go straight to the inner store and then move the symbol to a new cache version.
type CachingCandleStore struct {
	inner     usecase.CandleStore
	rdb       *redis.Client
	ttl       time.Duration
	namespace string

	hits   atomic.Int64
	misses atomic.Int64
}

var _ usecase.CandleStore = (*CachingCandleStore)(nil)

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// NewCachingCandleStore decorates a CandleStore with Redis caching.
// If ttl is 0, entries live until the next 08:00 Asia/Taipei, i.e. until the
// next trading day's data can exist. If namespace is empty, it uses "candles".
func NewCachingCandleStore(rdb *redis.Client, ttl time.Duration, inner usecase.CandleStore, namespace string) *CachingCandleStore {
	if ttl < 0 {
		ttl = 0
	}
	if namespace == "" {
		namespace = "candles"
	}
	return &CachingCandleStore{
		inner:     inner,
		rdb:       rdb,
		ttl:       ttl,
		namespace: namespace,
	}
}

// Stats returns the hit/miss counters since construction.
func (c *CachingCandleStore) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *CachingCandleStore) Load(ctx context.Context, symbol string) (entity.Series, error) {
	return c.inner.Load(ctx, symbol)
}

func (c *CachingCandleStore) Coverage(ctx context.Context, symbol string) ([]entity.DateRange, error) {
	return c.inner.Coverage(ctx, symbol)
}

// Merge writes through to the inner store and bumps the symbol's cache version.
// Entries are keyed by version, so a reader that loaded pre-merge rows can only
// write them under the old version, which no later read looks up.
func (c *CachingCandleStore) Merge(ctx context.Context, symbol string, fetched entity.DateRange, candles []entity.Candle) error {
	if err := c.inner.Merge(ctx, symbol, fetched, candles); err != nil {
		return err
	}
	// Exit early if Redis is not configured
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Incr(ctx, c.versionKey(symbol)).Err(); err != nil {
		slog.Warn("failed to bump candle cache version", "symbol", symbol, "error", err)
	}
	// Drop entries of older versions
	if err := c.deleteByPattern(ctx, c.cacheKeyPrefix(symbol)+"*"); err != nil {
		slog.Warn("failed to invalidate candle cache", "symbol", symbol, "error", err)
	}
	return nil
}

// ReadRange retrieves candles, checking cache first then falling back to the store.
func (c *CachingCandleStore) ReadRange(ctx context.Context, symbol string, r entity.DateRange) ([]entity.Candle, error) {
	// Bypass cache if Redis is not configured
	if c.rdb == nil {
		return c.inner.ReadRange(ctx, symbol, r)
	}

	// The version must be read before the store so a concurrent Merge can't be missed
	version, err := c.version(ctx, symbol)
	if err != nil {
		slog.Warn("candle cache version unavailable, bypassing cache", "symbol", symbol, "error", err)
		return c.inner.ReadRange(ctx, symbol, r)
	}
	key := c.cacheKey(symbol, version, r)

	// 1) Check cache
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var out []entity.Candle
		if err := json.Unmarshal(b, &out); err == nil {
			c.hits.Add(1)
			slog.Debug("candle cache hit", "symbol", symbol, "range", r.String())
			return out, nil
		}
		// Delete corrupted cache entry
		_ = c.rdb.Del(ctx, key).Err()
	}
	c.misses.Add(1)
	slog.Debug("candle cache miss", "symbol", symbol, "range", r.String())

	// 2) Fallback to the store
	out, err := c.inner.ReadRange(ctx, symbol, r)
	if err != nil {
		return nil, err
	}

	// 3) Store in cache (best effort)
	if b, err := json.Marshal(out); err == nil {
		_ = c.rdb.Set(ctx, key, b, c.expiry()).Err()
	}

	return out, nil
}

// version returns the symbol's merge counter; a missing counter is version 0.
func (c *CachingCandleStore) version(ctx context.Context, symbol string) (int64, error) {
	v, err := c.rdb.Get(ctx, c.versionKey(symbol)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *CachingCandleStore) expiry() time.Duration {
	if c.ttl > 0 {
		return c.ttl
	}
	return TimeUntilNext8AM()
}

// cacheKey generates a cache key for a specific range query at a cache version.
func (c *CachingCandleStore) cacheKey(symbol string, version int64, r entity.DateRange) string {
	return fmt.Sprintf("%sv%d:%s:%s", c.cacheKeyPrefix(symbol), version, r.From, r.To)
}

// cacheKeyPrefix generates a prefix for invalidating every range of a symbol.
func (c *CachingCandleStore) cacheKeyPrefix(symbol string) string {
	return fmt.Sprintf("%s:range:%s:", c.namespace, safe(symbol))
}

// versionKey lives outside the range prefix so invalidation never resets it.
func (c *CachingCandleStore) versionKey(symbol string) string {
	return fmt.Sprintf("%s:version:%s", c.namespace, safe(symbol))
}

// deleteByPattern deletes all cache keys matching a given pattern using SCAN.
func (c *CachingCandleStore) deleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, cur, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = cur
		if cursor == 0 {
			break
		}
	}
	return nil
}

// safe escapes characters that are problematic for Redis keys.
func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "*", "_")
	return s
}
