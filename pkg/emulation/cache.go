package emulation

import (
	"context"
	"fmt"
	"sync"

	"github.com/ajitpratap0/stratopt/internal/marketdata"
	"github.com/ajitpratap0/stratopt/internal/metrics"
	"github.com/ajitpratap0/stratopt/pkg/backtest"
)

// AdapterCache owns a reusable backtest engine. It is used by one run at a time.
type AdapterCache struct {
	ID     int
	engine *backtest.Engine
}

// NewAdapterCache creates an adapter cache
func NewAdapterCache(id int) *AdapterCache {
	return &AdapterCache{ID: id}
}

// Engine returns the cached engine reset to config
func (c *AdapterCache) Engine(config backtest.Config) *backtest.Engine {
	if c.engine == nil {
		c.engine = backtest.NewEngine(config)
		return c.engine
	}
	c.engine.Reset(config)
	return c.engine
}

// StorageCache memoizes candle series loaded from a source. Candles are
// shared read-only between the runs that borrow this cache in turn.
type StorageCache struct {
	ID     int
	source marketdata.Source

	mu     sync.Mutex
	series map[string][]*backtest.Candlestick
	loads  int
}

// NewStorageCache creates a storage cache in front of source
func NewStorageCache(id int, source marketdata.Source) *StorageCache {
	return &StorageCache{
		ID:     id,
		source: source,
		series: make(map[string][]*backtest.Candlestick),
	}
}

// Candles returns the series for q, loading it on first use
func (c *StorageCache) Candles(ctx context.Context, q marketdata.Query) ([]*backtest.Candlestick, error) {
	key := q.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if candles, ok := c.series[key]; ok {
		return candles, nil
	}
	if c.source == nil {
		return nil, fmt.Errorf("no market data source for %s", q.Symbol)
	}

	candles, err := c.source.Load(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles for %s: %w", q.Symbol, err)
	}

	c.series[key] = candles
	c.loads++
	return candles, nil
}

// Loads is the number of source loads performed
func (c *StorageCache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// NewAdapterPool creates a pool of n adapter caches
func NewAdapterPool(n int) *Pool[*AdapterCache] {
	caches := make([]*AdapterCache, n)
	for i := range caches {
		caches[i] = NewAdapterCache(i)
	}
	return NewPool(metrics.PoolAdapter, caches...)
}

// NewStoragePool creates a pool of n storage caches over source
func NewStoragePool(n int, source marketdata.Source) *Pool[*StorageCache] {
	caches := make([]*StorageCache, n)
	for i := range caches {
		caches[i] = NewStorageCache(i, source)
	}
	return NewPool(metrics.PoolStorage, caches...)
}
