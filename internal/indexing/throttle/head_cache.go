package throttle

import (
	"context"
	"sync"
	"time"
)

// HeadSource reports the current chain head.
type HeadSource interface {
	LatestBlock(ctx context.Context) (int64, error)
}

// HeadFunc adapts a function to HeadSource.
type HeadFunc func(ctx context.Context) (int64, error)

// LatestBlock calls f.
func (f HeadFunc) LatestBlock(ctx context.Context) (int64, error) {
	return f(ctx)
}

// HeadCache caches the chain head to reduce redundant API calls when several
// history fetches and reconcile passes run close together.
type HeadCache struct {
	source HeadSource
	ttl    time.Duration

	mu       sync.RWMutex
	cached   int64
	cachedAt time.Time
}

// NewHeadCache creates a new head cache with the given TTL.
func NewHeadCache(source HeadSource, ttl time.Duration) *HeadCache {
	return &HeadCache{
		source: source,
		ttl:    ttl,
	}
}

// LatestBlock returns the cached chain head if within TTL, otherwise fetches fresh.
func (c *HeadCache) LatestBlock(ctx context.Context) (int64, error) {
	c.mu.RLock()
	if time.Since(c.cachedAt) < c.ttl && c.cached > 0 {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	head, err := c.source.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if head > c.cached || time.Since(c.cachedAt) >= c.ttl {
		c.cached = head
	}
	c.cachedAt = time.Now()
	head = c.cached
	c.mu.Unlock()

	return head, nil
}

// Observe raises the cached head when a transaction is seen in a newer block.
func (c *HeadCache) Observe(block int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if block > c.cached {
		c.cached = block
	}
}

// Peek returns the last known head without fetching. Zero means unknown.
func (c *HeadCache) Peek() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached
}

// Invalidate clears the cache, forcing the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
