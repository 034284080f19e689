package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratopt/internal/metrics"
	"github.com/ajitpratap0/stratopt/pkg/backtest"
)

const (
	defaultCacheTTL = time.Hour
	cacheOpTimeout  = 500 * time.Millisecond
	cacheKeyPrefix  = "candles:"
)

// RedisCache is a read-through candle cache in front of another Source.
// A nil client disables caching and every load goes to the source.
type RedisCache struct {
	client *redis.Client
	source Source
	ttl    time.Duration
}

// NewRedisCache wraps source; ttl 0 uses one hour
func NewRedisCache(client *redis.Client, source Source, ttl time.Duration) *RedisCache {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{client: client, source: source, ttl: ttl}
}

// Load returns cached candles or loads and caches them. Cache errors are
// treated as misses.
func (c *RedisCache) Load(ctx context.Context, q Query) ([]*backtest.Candlestick, error) {
	if c.client == nil {
		return c.source.Load(ctx, q)
	}

	key := cacheKeyPrefix + q.Key()
	if candles, ok := c.get(ctx, key); ok {
		return candles, nil
	}

	candles, err := c.source.Load(ctx, q)
	if err != nil {
		return nil, err
	}

	if err := c.set(ctx, key, candles); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache candles")
	}
	return candles, nil
}

// Invalidate removes the cached series for q
func (c *RedisCache) Invalidate(ctx context.Context, q Query) error {
	if c.client == nil {
		return nil
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.client.Del(cacheCtx, cacheKeyPrefix+q.Key()).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}
	return nil
}

func (c *RedisCache) get(ctx context.Context, key string) ([]*backtest.Candlestick, bool) {
	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheLookup(metrics.CacheMiss)
		} else {
			metrics.RecordCacheLookup(metrics.CacheError)
			log.Debug().Err(err).Str("key", key).Msg("Redis get error - treating as cache miss")
		}
		return nil, false
	}

	var candles []*backtest.Candlestick
	if err := json.Unmarshal(cached, &candles); err != nil {
		metrics.RecordCacheLookup(metrics.CacheError)
		log.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached candles")
		return nil, false
	}

	metrics.RecordCacheLookup(metrics.CacheHit)
	return candles, true
}

func (c *RedisCache) set(ctx context.Context, key string, candles []*backtest.Candlestick) error {
	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("failed to marshal candles: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	return c.client.Set(cacheCtx, key, data, c.ttl).Err()
}
