package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/indexing/cache"
)

// generation keys outlive records so a late Store after expiry still sees
// a mismatch
const genTTL = 24 * time.Hour

// BalanceCache implements cache.BalanceCache on Redis so several engine
// processes share one balance tier. Assets of one address share a hash, so
// each entry carries its own store time and expires on its own.
type BalanceCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type cachedBalance struct {
	Record   *domain.BalanceRecord `json:"record"`
	StoredAt time.Time             `json:"stored_at"`
}

func encodeEntry(rec *domain.BalanceRecord, now time.Time) ([]byte, error) {
	return json.Marshal(cachedBalance{Record: rec, StoredAt: now.UTC()})
}

// decodeEntry returns the record of a hash field unless it is unreadable or
// older than ttl.
func decodeEntry(data []byte, now time.Time, ttl time.Duration) (*domain.BalanceRecord, bool) {
	var entry cachedBalance
	if err := json.Unmarshal(data, &entry); err != nil || entry.Record == nil {
		return nil, false
	}
	if ttl > 0 && now.Sub(entry.StoredAt) >= ttl {
		return nil, false
	}
	return entry.Record, true
}

var _ cache.BalanceCache = (*BalanceCache)(nil)

// NewBalanceCache creates a Redis-backed balance cache.
func NewBalanceCache(client *Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{
		rdb:    client.rdb,
		prefix: client.prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Key helpers
func (c *BalanceCache) recordsKey(key cache.Key) string {
	return fmt.Sprintf("%s:balance:%s", c.prefix, key)
}

func (c *BalanceCache) genKey(key cache.Key) string {
	return fmt.Sprintf("%s:balance-gen:%s", c.prefix, key)
}

func (c *BalanceCache) clockKey() string {
	return c.prefix + ":balance-clock"
}

// Lookup reads the record and the current generation, starting a
// generation for keys that have none.
func (c *BalanceCache) Lookup(ctx context.Context, key cache.Key, asset string) (cache.Lookup, error) {
	pipe := c.rdb.Pipeline()
	recCmd := pipe.HGet(ctx, c.recordsKey(key), asset)
	genCmd := pipe.Get(ctx, c.genKey(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return cache.Lookup{}, fmt.Errorf("balance lookup failed: %w", err)
	}

	gen, err := genCmd.Uint64()
	if errors.Is(err, redis.Nil) {
		gen, err = c.startGeneration(ctx, key)
	}
	if err != nil {
		return cache.Lookup{}, fmt.Errorf("balance generation: %w", err)
	}

	data, err := recCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return cache.Lookup{Generation: gen}, nil
	}
	if err != nil {
		return cache.Lookup{}, fmt.Errorf("hget failed: %w", err)
	}

	rec, ok := decodeEntry(data, c.now(), c.ttl)
	if !ok {
		return cache.Lookup{Generation: gen}, nil
	}
	return cache.Lookup{Record: rec, Generation: gen, Hit: true}, nil
}

func (c *BalanceCache) startGeneration(ctx context.Context, key cache.Key) (uint64, error) {
	next, err := c.rdb.Incr(ctx, c.clockKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("incr failed: %w", err)
	}
	ok, err := c.rdb.SetNX(ctx, c.genKey(key), next, genTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("setnx failed: %w", err)
	}
	if ok {
		return uint64(next), nil
	}
	// another process started the generation first
	return c.rdb.Get(ctx, c.genKey(key)).Uint64()
}

// Store writes rec only while the key's generation still equals gen.
func (c *BalanceCache) Store(
	ctx context.Context,
	key cache.Key,
	asset string,
	gen uint64,
	rec *domain.BalanceRecord,
) (bool, error) {
	if rec == nil {
		return false, nil
	}
	data, err := encodeEntry(rec, c.now())
	if err != nil {
		return false, fmt.Errorf("marshal balance: %w", err)
	}

	genKey := c.genKey(key)
	recordsKey := c.recordsKey(key)
	stored := false

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Uint64()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recordsKey, asset, data)
			if c.ttl > 0 {
				// bounds the hash; entries expire by stored_at
				pipe.Expire(ctx, recordsKey, c.ttl)
			}
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey)

	if errors.Is(err, redis.TxFailedErr) {
		// generation changed while we were writing
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("balance store failed: %w", err)
	}
	return stored, nil
}

// Invalidate starts a new generation and drops every cached asset.
func (c *BalanceCache) Invalidate(ctx context.Context, key cache.Key) error {
	next, err := c.rdb.Incr(ctx, c.clockKey()).Result()
	if err != nil {
		return fmt.Errorf("incr failed: %w", err)
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.genKey(key), strconv.FormatInt(next, 10), genTTL)
		pipe.Del(ctx, c.recordsKey(key))
		return nil
	})
	if err != nil {
		return fmt.Errorf("balance invalidate failed: %w", err)
	}
	return nil
}
