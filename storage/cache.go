package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard-api/domain"
	"taskboard-api/ordering"
)

type backend interface {
	ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error)
	GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error)
	ApplyMutation(ctx context.Context, ownerID string, m ordering.Mutation) error
}

var errStaleFill = errors.New("task list changed while loading")

// Cache wraps a store with Redis-backed caching of task lists. Each owner
// has a generation counter bumped by every write; a list read from the
// backing store is only cached when the generation did not move meanwhile.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// cachedTask keeps the ETag, which the public task encoding drops.
type cachedTask struct {
	domain.Task
	ETag string `json:"etag"`
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, ownerID); ok {
		return tasks, nil
	}

	gen, genOK := c.generation(ctx, ownerID)
	tasks, err := c.base.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if genOK {
		c.storeTasks(ctx, ownerID, gen, tasks)
	}
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	return c.base.GetTask(ctx, ownerID, taskID)
}

// ApplyMutation writes through to the backing store, then bumps the owner's
// generation and evicts the cached list, also when the write fails, so a
// retry reads fresh ETags.
func (c *Cache) ApplyMutation(ctx context.Context, ownerID string, m ordering.Mutation) error {
	err := c.base.ApplyMutation(ctx, ownerID, m)
	c.evict(ctx, ownerID)
	return err
}

// generation returns the owner's write counter; ok is false when redis
// cannot tell, in which case nothing may be cached.
func (c *Cache) generation(ctx context.Context, ownerID string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey(ownerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return gen, true
}

func (c *Cache) loadTasksFromCache(ctx context.Context, ownerID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(ownerID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(ownerID)).Err()
		}
		return nil, false
	}
	var cached []cachedTask
	if err := json.Unmarshal(data, &cached); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(ownerID)).Err()
		return nil, false
	}
	tasks := make([]domain.Task, len(cached))
	for i, ct := range cached {
		tasks[i] = ct.Task
		tasks[i].ETag = ct.ETag
	}
	return tasks, true
}

// storeTasks caches tasks read at generation gen. The fill is dropped when
// a write bumped the generation since.
func (c *Cache) storeTasks(ctx context.Context, ownerID string, gen int64, tasks []domain.Task) {
	cached := make([]cachedTask, len(tasks))
	for i, t := range tasks {
		cached[i] = cachedTask{Task: t, ETag: t.ETag}
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return
	}
	genKey := generationKey(ownerID)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, tasksCacheKey(ownerID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func (c *Cache) evict(ctx context.Context, ownerID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(ownerID))
		pipe.Del(ctx, tasksCacheKey(ownerID))
		return nil
	})
}

func tasksCacheKey(ownerID string) string {
	return "tasks:" + ownerID
}

func generationKey(ownerID string) string {
	return "tasks-gen:" + ownerID
}
