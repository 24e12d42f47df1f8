package cache

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agrimrv/backend/internal/canonical"
)

const hashKeyPrefix = "agrimrv:canonical:"

// RedisHashCache stores canonical results as a hash per farmer revision.
// Revisions only move forward, so entries never need invalidation; the TTL
// only bounds memory.
type RedisHashCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisHashCache(client *redis.Client, ttl time.Duration) *RedisHashCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisHashCache{client: client, ttl: ttl}
}

func hashKey(farmerID string, revision int64) string {
	return hashKeyPrefix + farmerID + ":" + strconv.FormatInt(revision, 10)
}

func (c *RedisHashCache) Get(ctx context.Context, farmerID string, revision int64) (canonical.Result, bool, error) {
	fields, err := c.client.HGetAll(ctx, hashKey(farmerID, revision)).Result()
	if err != nil {
		return canonical.Result{}, false, err
	}
	if len(fields) == 0 {
		return canonical.Result{}, false, nil
	}
	hash, err := canonical.ParseHash(fields["hash"])
	if err != nil {
		return canonical.Result{}, false, fmt.Errorf("corrupt cache entry: %w", err)
	}
	payload := []byte(fields["payload"])
	if !bytes.Equal(canonical.Hash(payload), hash) {
		return canonical.Result{}, false, fmt.Errorf("corrupt cache entry: hash mismatch")
	}
	return canonical.Result{Bytes: payload, Hash: hash}, true, nil
}

func (c *RedisHashCache) Put(ctx context.Context, farmerID string, revision int64, res canonical.Result) error {
	key := hashKey(farmerID, revision)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, "hash", res.HashHex(), "payload", string(res.Bytes))
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

type memoryEntry struct {
	res     canonical.Result
	expires time.Time
}

type MemoryHashCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryHashCache(ttl time.Duration) *MemoryHashCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryHashCache{
		ttl:     ttl,
		entries: map[string]memoryEntry{},
		now:     time.Now,
	}
}

func (c *MemoryHashCache) Get(_ context.Context, farmerID string, revision int64) (canonical.Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := hashKey(farmerID, revision)
	e, ok := c.entries[key]
	if !ok {
		return canonical.Result{}, false, nil
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return canonical.Result{}, false, nil
	}
	return e.res, true, nil
}

func (c *MemoryHashCache) Put(_ context.Context, farmerID string, revision int64, res canonical.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[hashKey(farmerID, revision)] = memoryEntry{
		res:     canonical.Result{Bytes: append([]byte(nil), res.Bytes...), Hash: append([]byte(nil), res.Hash...)},
		expires: c.now().Add(c.ttl),
	}
	return nil
}
