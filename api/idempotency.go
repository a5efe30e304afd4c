package api

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// RedisDeduper remembers create requests by Idempotency-Key so retries from
// any instance return the task created the first time.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return "idem:" + userID + ":" + key
}

// Reserve stores a pending marker for the key. A key that already exists
// yields the stored task id, or "" while the first request is in flight.
func (r *RedisDeduper) Reserve(ctx context.Context, userID, key string) (string, bool, error) {
	k := r.key(userID, key)
	ok, err := r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	val, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; claim it again
		return r.Reserve(ctx, userID, key)
	}
	if err != nil {
		return "", false, err
	}
	if val == pendingMarker {
		return "", false, nil
	}
	return val, false, nil
}

// Complete binds the key to the created task id.
func (r *RedisDeduper) Complete(ctx context.Context, userID, key, taskID string) error {
	return r.client.Set(ctx, r.key(userID, key), taskID, r.ttl).Err()
}

// Release forgets the key so the caller may retry the create.
func (r *RedisDeduper) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
