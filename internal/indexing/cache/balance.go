// Package cache holds the process-wide balance cache and the transaction
// batch cache shared by chain adapters.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/chainscan/internal/core/domain"
)

// Key identifies one address on one chain.
type Key struct {
	Chain   domain.ChainID
	Address string
}

func (k Key) String() string {
	return string(k.Chain) + ":" + k.Address
}

// Lookup is the result of a balance cache read.
// Generation must be passed back to Store so that a fetch which raced with
// an invalidation cannot repopulate stale data.
type Lookup struct {
	Record     *domain.BalanceRecord
	Generation uint64
	Hit        bool
}

// BalanceCache stores balance records per (chain, address, asset).
type BalanceCache interface {
	// Lookup returns the cached record or a miss carrying the current generation
	Lookup(ctx context.Context, key Key, asset string) (Lookup, error)

	// Store saves rec unless the key was invalidated after generation gen was
	// handed out. It reports whether the record was stored.
	Store(ctx context.Context, key Key, asset string, gen uint64, rec *domain.BalanceRecord) (bool, error)

	// Invalidate drops every asset of key and starts a new generation
	Invalidate(ctx context.Context, key Key) error
}

type cachedRecord struct {
	rec      *domain.BalanceRecord
	storedAt time.Time
}

type entry struct {
	gen     uint64
	records map[string]cachedRecord
	touched time.Time
}

// MemoryBalanceCache is an in-process BalanceCache with TTL expiry and
// oldest-first eviction beyond capacity.
type MemoryBalanceCache struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	clock    uint64
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

var _ BalanceCache = (*MemoryBalanceCache)(nil)

// NewMemoryBalanceCache creates a cache. A zero ttl disables expiry and a
// zero capacity disables eviction.
func NewMemoryBalanceCache(ttl time.Duration, capacity int) *MemoryBalanceCache {
	return &MemoryBalanceCache{
		entries:  make(map[Key]*entry),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// NormalizeKey trims the address. Chain adapters canonicalize case before
// keys are built.
func NormalizeKey(chain domain.ChainID, address string) Key {
	return Key{Chain: chain, Address: strings.TrimSpace(address)}
}

func (c *MemoryBalanceCache) Lookup(ctx context.Context, key Key, asset string) (Lookup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok {
		c.clock++
		e = &entry{gen: c.clock, records: make(map[string]cachedRecord), touched: now}
		c.entries[key] = e
		c.evictLocked(key)
	}
	e.touched = now

	cr, ok := e.records[asset]
	if !ok {
		return Lookup{Generation: e.gen}, nil
	}
	if c.ttl > 0 && now.Sub(cr.storedAt) > c.ttl {
		delete(e.records, asset)
		return Lookup{Generation: e.gen}, nil
	}
	return Lookup{Record: cr.rec.Clone(), Generation: e.gen, Hit: true}, nil
}

func (c *MemoryBalanceCache) Store(
	ctx context.Context,
	key Key,
	asset string,
	gen uint64,
	rec *domain.BalanceRecord,
) (bool, error) {
	if rec == nil {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.gen != gen {
		return false, nil
	}
	now := c.now()
	e.records[asset] = cachedRecord{rec: rec.Clone(), storedAt: now}
	e.touched = now
	return true, nil
}

func (c *MemoryBalanceCache) Invalidate(ctx context.Context, key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	c.clock++
	e.gen = c.clock
	e.records = make(map[string]cachedRecord)
	return nil
}

// Len returns the number of cached addresses.
func (c *MemoryBalanceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryBalanceCache) evictLocked(keep Key) {
	if c.capacity <= 0 {
		return
	}
	for len(c.entries) > c.capacity {
		var oldestKey Key
		var oldest time.Time
		first := true
		for k, e := range c.entries {
			if k == keep {
				continue
			}
			if first || e.touched.Before(oldest) {
				oldestKey, oldest, first = k, e.touched, false
			}
		}
		delete(c.entries, oldestKey)
	}
}
