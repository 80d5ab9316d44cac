package cache

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/chainscan/internal/core/domain"
)

// Partitions maps a sub-account key (native "_", token contract, token id)
// to the transactions of one address that belong to it.
type Partitions map[string][]*domain.UnifiedTransaction

// FetchFunc loads every partition of one address in a single upstream call.
// ok=false means the upstream had no answer; nothing is cached then.
type FetchFunc func(ctx context.Context) (parts Partitions, ok bool, err error)

type batchEntry struct {
	mu        sync.Mutex
	parts     Partitions
	fetchedAt time.Time
}

// BatchCache keeps the partitioned result of one expensive history call per
// address for a short window, so every sub-account query against that
// address is served by one fetch.
type BatchCache struct {
	mu      sync.Mutex
	entries map[Key]*batchEntry
	window  time.Duration
	now     func() time.Time
}

// NewBatchCache creates a batch cache with the given validity window.
func NewBatchCache(window time.Duration) *BatchCache {
	return &BatchCache{
		entries: make(map[Key]*batchEntry),
		window:  window,
		now:     time.Now,
	}
}

func (c *BatchCache) entry(key Key) *batchEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if k == key || !e.mu.TryLock() {
			continue
		}
		if e.expired(now, c.window) {
			delete(c.entries, k)
		}
		e.mu.Unlock()
	}

	e, ok := c.entries[key]
	if !ok {
		e = &batchEntry{}
		c.entries[key] = e
	}
	return e
}

func (e *batchEntry) expired(now time.Time, window time.Duration) bool {
	return e.parts == nil || now.Sub(e.fetchedAt) >= window
}

// Get returns the transactions of sub-account sub. A fresh entry is
// authoritative: a sub-account it does not contain has no transactions.
// Concurrent callers for the same key wait for a single fetch.
func (c *BatchCache) Get(ctx context.Context, key Key, sub string, fetch FetchFunc) ([]*domain.UnifiedTransaction, error) {
	e := c.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.expired(c.now(), c.window) {
		return copyTxs(e.parts[sub]), nil
	}

	parts, ok, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []*domain.UnifiedTransaction{}, nil
	}
	if parts == nil {
		parts = Partitions{}
	}
	e.parts = parts
	e.fetchedAt = c.now()
	return copyTxs(parts[sub]), nil
}

// Invalidate forgets the cached batch of key.
func (c *BatchCache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func copyTxs(in []*domain.UnifiedTransaction) []*domain.UnifiedTransaction {
	out := make([]*domain.UnifiedTransaction, 0, len(in))
	for _, tx := range in {
		cp := *tx
		out = append(out, &cp)
	}
	return out
}
