package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agrimrv/backend/internal/blockchain"
)

const idempotencyKeyPrefix = "agrimrv:ledger:tx:"

// RedisIdempotencyIndex pins a signed ledger transaction to each idempotency
// key so every process retrying the key rebroadcasts the same bytes.
type RedisIdempotencyIndex struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyIndex(client *redis.Client, ttl time.Duration) *RedisIdempotencyIndex {
	return &RedisIdempotencyIndex{client: client, ttl: ttl}
}

func (i *RedisIdempotencyIndex) Get(ctx context.Context, key string) (blockchain.Reservation, bool, error) {
	raw, err := i.client.Get(ctx, idempotencyKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return blockchain.Reservation{}, false, nil
	}
	if err != nil {
		return blockchain.Reservation{}, false, err
	}
	var r blockchain.Reservation
	if err := json.Unmarshal(raw, &r); err != nil {
		return blockchain.Reservation{}, false, fmt.Errorf("decode reservation %s: %w", key, err)
	}
	return r, true, nil
}

func (i *RedisIdempotencyIndex) Reserve(ctx context.Context, key string, r blockchain.Reservation) (blockchain.Reservation, bool, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return blockchain.Reservation{}, false, err
	}
	won, err := i.client.SetNX(ctx, idempotencyKeyPrefix+key, payload, i.ttl).Result()
	if err != nil {
		return blockchain.Reservation{}, false, err
	}
	if won {
		return r, true, nil
	}
	cur, ok, err := i.Get(ctx, key)
	if err != nil {
		return blockchain.Reservation{}, false, err
	}
	if !ok {
		return blockchain.Reservation{}, false, fmt.Errorf("reservation %s expired while reserving", key)
	}
	return cur, false, nil
}

func (i *RedisIdempotencyIndex) Replace(ctx context.Context, key string, old, next blockchain.Reservation) (bool, error) {
	payload, err := json.Marshal(next)
	if err != nil {
		return false, err
	}
	k := idempotencyKeyPrefix + key
	swapped := false
	err = i.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var cur blockchain.Reservation
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("decode reservation %s: %w", key, err)
		}
		if cur != old {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, payload, i.ttl)
			return nil
		})
		swapped = err == nil
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return swapped, err
}
