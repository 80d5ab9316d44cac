package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/chainscan/internal/core/domain"
)

func parts() Partitions {
	return Partitions{
		"_":       {{TransactionHash: "native"}},
		"1002000": {{TransactionHash: "trc10"}},
	}
}

func TestBatchCache_OneFetchServesAllSubAccounts(t *testing.T) {
	c := NewBatchCache(30 * time.Second)
	key := Key{Chain: "TRX", Address: "TAddr"}
	var fetches atomic.Int32
	fetch := func(ctx context.Context) (Partitions, bool, error) {
		fetches.Add(1)
		return parts(), true, nil
	}

	native, err := c.Get(context.Background(), key, "_", fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(native) != 1 || native[0].TransactionHash != "native" {
		t.Errorf("unexpected native partition %v", native)
	}

	token, _ := c.Get(context.Background(), key, "1002000", fetch)
	if len(token) != 1 || token[0].TransactionHash != "trc10" {
		t.Errorf("unexpected token partition %v", token)
	}

	other, _ := c.Get(context.Background(), key, "TOther", fetch)
	if other == nil || len(other) != 0 {
		t.Errorf("expected empty partition, got %v", other)
	}

	if fetches.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", fetches.Load())
	}
}

func TestBatchCache_Window(t *testing.T) {
	c := NewBatchCache(30 * time.Second)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }
	key := Key{Chain: "TRX", Address: "TAddr"}
	fetches := 0
	fetch := func(ctx context.Context) (Partitions, bool, error) {
		fetches++
		return parts(), true, nil
	}

	_, _ = c.Get(context.Background(), key, "_", fetch)
	now = now.Add(31 * time.Second)
	_, _ = c.Get(context.Background(), key, "_", fetch)
	if fetches != 2 {
		t.Errorf("expected refetch after window, got %d fetches", fetches)
	}
}

func TestBatchCache_FailureNotCached(t *testing.T) {
	c := NewBatchCache(30 * time.Second)
	key := Key{Chain: "TRX", Address: "TAddr"}
	boom := errors.New("malformed")

	if _, err := c.Get(context.Background(), key, "_", func(context.Context) (Partitions, bool, error) {
		return nil, false, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}

	txs, err := c.Get(context.Background(), key, "_", func(context.Context) (Partitions, bool, error) {
		return nil, false, nil
	})
	if err != nil || len(txs) != 0 {
		t.Fatalf("expected empty result for unanswered fetch, got %v %v", txs, err)
	}

	fetched := false
	_, _ = c.Get(context.Background(), key, "_", func(context.Context) (Partitions, bool, error) {
		fetched = true
		return parts(), true, nil
	})
	if !fetched {
		t.Error("expected fetch after failures")
	}
}

func TestBatchCache_ConcurrentCallersShareFetch(t *testing.T) {
	c := NewBatchCache(30 * time.Second)
	key := Key{Chain: "TRX", Address: "TAddr"}
	var fetches atomic.Int32
	fetch := func(ctx context.Context) (Partitions, bool, error) {
		fetches.Add(1)
		time.Sleep(10 * time.Millisecond)
		return parts(), true, nil
	}

	var wg sync.WaitGroup
	for _, sub := range []string{"_", "1002000", "_", "1002000", "_"} {
		wg.Add(1)
		go func(sub string) {
			defer wg.Done()
			_, _ = c.Get(context.Background(), key, sub, fetch)
		}(sub)
	}
	wg.Wait()

	if fetches.Load() != 1 {
		t.Errorf("expected a single fetch, got %d", fetches.Load())
	}
}

func TestBatchCache_ReturnsCopies(t *testing.T) {
	c := NewBatchCache(30 * time.Second)
	key := Key{Chain: "TRX", Address: "TAddr"}
	fetch := func(ctx context.Context) (Partitions, bool, error) {
		return Partitions{"_": {{TransactionHash: "h", TransactionStatus: domain.TxStatusNew}}}, true, nil
	}

	first, _ := c.Get(context.Background(), key, "_", fetch)
	first[0].TransactionStatus = domain.TxStatusFail

	second, _ := c.Get(context.Background(), key, "_", fetch)
	if second[0].TransactionStatus != domain.TxStatusNew {
		t.Error("expected cached transactions to be isolated from callers")
	}
}
