package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chainscan/internal/core/domain"
)

func rec(v int64) *domain.BalanceRecord {
	return &domain.BalanceRecord{Balance: decimal.NewFromInt(v), Provider: "test"}
}

func TestMemoryBalanceCache_MissStoreHit(t *testing.T) {
	c := NewMemoryBalanceCache(time.Minute, 0)
	ctx := context.Background()
	key := Key{Chain: "BSV", Address: "1abc"}

	l, err := c.Lookup(ctx, key, "_")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Hit {
		t.Fatal("expected miss on empty cache")
	}

	stored, _ := c.Store(ctx, key, "_", l.Generation, rec(10))
	if !stored {
		t.Fatal("expected store to succeed")
	}

	l, _ = c.Lookup(ctx, key, "_")
	if !l.Hit || !l.Record.Balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected hit with 10, got %+v", l)
	}

	l.Record.Balance = decimal.NewFromInt(99)
	again, _ := c.Lookup(ctx, key, "_")
	if !again.Record.Balance.Equal(decimal.NewFromInt(10)) {
		t.Error("expected cached record to be isolated from callers")
	}
}

func TestMemoryBalanceCache_InvalidateRejectsStaleStore(t *testing.T) {
	c := NewMemoryBalanceCache(time.Minute, 0)
	ctx := context.Background()
	key := Key{Chain: "TRX", Address: "TAddr"}

	// balance fetch starts
	l, _ := c.Lookup(ctx, key, "_")

	// transaction fetch completes meanwhile
	if err := c.Invalidate(ctx, key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := c.Store(ctx, key, "_", l.Generation, rec(1))
	if stored {
		t.Fatal("expected store with pre-invalidation generation to be rejected")
	}
	if l2, _ := c.Lookup(ctx, key, "_"); l2.Hit {
		t.Error("expected miss after rejected store")
	}
}

func TestMemoryBalanceCache_InvalidateClearsAllAssets(t *testing.T) {
	c := NewMemoryBalanceCache(time.Minute, 0)
	ctx := context.Background()
	key := Key{Chain: "TRX", Address: "TAddr"}

	for _, asset := range []string{"_", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"} {
		l, _ := c.Lookup(ctx, key, asset)
		_, _ = c.Store(ctx, key, asset, l.Generation, rec(5))
	}
	_ = c.Invalidate(ctx, key)

	for _, asset := range []string{"_", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"} {
		if l, _ := c.Lookup(ctx, key, asset); l.Hit {
			t.Errorf("expected %s to be invalidated", asset)
		}
	}
}

func TestMemoryBalanceCache_TTL(t *testing.T) {
	c := NewMemoryBalanceCache(time.Second, 0)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	key := Key{Chain: "ETH", Address: "0xabc"}

	l, _ := c.Lookup(ctx, key, "_")
	_, _ = c.Store(ctx, key, "_", l.Generation, rec(1))

	now = now.Add(2 * time.Second)
	if l, _ := c.Lookup(ctx, key, "_"); l.Hit {
		t.Error("expected expired record to miss")
	}
}

func TestMemoryBalanceCache_Capacity(t *testing.T) {
	c := NewMemoryBalanceCache(time.Minute, 2)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
	ctx := context.Background()

	a := Key{Chain: "ETH", Address: "a"}
	la, _ := c.Lookup(ctx, a, "_")
	_, _ = c.Lookup(ctx, Key{Chain: "ETH", Address: "b"}, "_")
	_, _ = c.Lookup(ctx, Key{Chain: "ETH", Address: "c"}, "_")

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if stored, _ := c.Store(ctx, a, "_", la.Generation, rec(1)); stored {
		t.Error("expected store into evicted entry to be rejected")
	}
}

func TestMemoryBalanceCache_ConcurrentAccess(t *testing.T) {
	c := NewMemoryBalanceCache(time.Minute, 10)
	ctx := context.Background()
	key := Key{Chain: "ETH", Address: "0xabc"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, _ := c.Lookup(ctx, key, "_")
			if i%5 == 0 {
				_ = c.Invalidate(ctx, key)
			}
			_, _ = c.Store(ctx, key, "_", l.Generation, rec(int64(i)))
		}(i)
	}
	wg.Wait()

	if c.Len() != 1 {
		t.Errorf("expected a single entry, got %d", c.Len())
	}
}
