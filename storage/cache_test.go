package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskboard-api/domain"
	"taskboard-api/ordering"
)

type stubBackend struct {
	listTasksFn     func(ctx context.Context, ownerID string) ([]domain.Task, error)
	getTaskFn       func(ctx context.Context, ownerID, taskID string) (*domain.Task, error)
	applyMutationFn func(ctx context.Context, ownerID string, m ordering.Mutation) error
}

func (s *stubBackend) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	if s.listTasksFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listTasksFn(ctx, ownerID)
}

func (s *stubBackend) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	if s.getTaskFn == nil {
		return nil, errors.New("unexpected GetTask call")
	}
	return s.getTaskFn(ctx, ownerID, taskID)
}

func (s *stubBackend) ApplyMutation(ctx context.Context, ownerID string, m ordering.Mutation) error {
	if s.applyMutationFn == nil {
		return errors.New("unexpected ApplyMutation call")
	}
	return s.applyMutationFn(ctx, ownerID, m)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheListTasksMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)

	ctx := context.Background()
	ownerID := "user-1"
	expected := []domain.Task{{ID: "t1", OwnerID: ownerID, Name: "Write code", Rank: 0, ETag: "etag-1"}}

	var calls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			calls++
			if uid != ownerID {
				t.Fatalf("unexpected owner id: %s", uid)
			}
			return append([]domain.Task(nil), expected...), nil
		},
	}, client, time.Minute)

	tasks, err := cache.ListTasks(ctx, ownerID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(tasksCacheKey(ownerID)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.ListTasks(ctx, ownerID)
	if err != nil {
		t.Fatalf("list cached tasks: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("cached tasks lost fields: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheApplyMutationEvicts(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	var applied int
	cache := NewCache(&stubBackend{
		applyMutationFn: func(ctx context.Context, ownerID string, m ordering.Mutation) error {
			applied++
			return nil
		},
	}, client, time.Minute)

	if err := mr.Set(tasksCacheKey("u1"), "[]"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if err := mr.Set(tasksCacheKey("u2"), "[]"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	if err := cache.ApplyMutation(ctx, "u1", ordering.Mutation{}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected backend write, got %d", applied)
	}
	if mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("expected owner cache to be evicted")
	}
	if !mr.Exists(tasksCacheKey("u2")) {
		t.Fatalf("expected other owner cache to survive")
	}
}

func TestCacheApplyMutationErrorEvicts(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	cache := NewCache(&stubBackend{
		applyMutationFn: func(ctx context.Context, ownerID string, m ordering.Mutation) error {
			return domain.ErrConcurrencyConflict
		},
	}, client, time.Minute)
	if err := mr.Set(tasksCacheKey("u1"), "[]"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	err := cache.ApplyMutation(ctx, "u1", ordering.Mutation{})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict to propagate, got %v", err)
	}
	if mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("expected stale cache to be evicted after failed write")
	}
}

func TestCacheFallsBackOnCorruptEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	if err := mr.Set(tasksCacheKey("u1"), "{not json"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	var calls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(ctx context.Context, ownerID string) ([]domain.Task, error) {
			calls++
			return []domain.Task{{ID: "t1", OwnerID: ownerID}}, nil
		},
	}, client, time.Minute)

	tasks, err := cache.ListTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if calls != 1 || len(tasks) != 1 {
		t.Fatalf("expected backend fallback, calls=%d tasks=%v", calls, tasks)
	}
}

func TestCacheZeroTTLDisablesStore(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	cache := NewCache(&stubBackend{
		listTasksFn: func(ctx context.Context, ownerID string) ([]domain.Task, error) {
			return []domain.Task{}, nil
		},
	}, client, 0)

	if _, err := cache.ListTasks(ctx, "u1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("expected nothing cached with zero ttl")
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(NewMemoryStore(), nil, time.Minute)
	if err := cache.ApplyMutation(ctx, "u1", ordering.Mutation{Upserts: []domain.Task{{ID: "a", OwnerID: "u1"}}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	tasks, err := cache.ListTasks(ctx, "u1")
	if err != nil || len(tasks) != 1 {
		t.Fatalf("unexpected list result: %v %v", tasks, err)
	}
	got, err := cache.GetTask(ctx, "u1", "a")
	if err != nil || got == nil {
		t.Fatalf("unexpected get result: %v %v", got, err)
	}
}

// gatedBackend blocks ListTasks after it has read from the store until
// release is closed.
type gatedBackend struct {
	*MemoryStore
	read    chan struct{}
	release chan struct{}
}

func (g *gatedBackend) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	tasks, err := g.MemoryStore.ListTasks(ctx, ownerID)
	if g.read != nil {
		close(g.read)
		g.read = nil
		<-g.release
	}
	return tasks, err
}

func TestCacheDropsFillRacingWithWrite(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	base := &gatedBackend{MemoryStore: NewMemoryStore(), read: make(chan struct{}), release: make(chan struct{})}
	read := base.read
	cache := NewCache(base, client, time.Minute)

	done := make(chan []domain.Task)
	go func() {
		tasks, err := cache.ListTasks(ctx, "u1")
		if err != nil {
			t.Errorf("list: %v", err)
		}
		done <- tasks
	}()
	<-read

	if err := cache.ApplyMutation(ctx, "u1", ordering.Mutation{Upserts: []domain.Task{{ID: "t1", OwnerID: "u1"}}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	close(base.release)
	if stale := <-done; len(stale) != 0 {
		t.Fatalf("expected the racing read to see the old list, got %v", stale)
	}
	if mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("expected list read before the write not to be cached")
	}

	tasks, err := cache.ListTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("read after write returned %v", tasks)
	}
	if !mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("expected fresh list to be cached")
	}
}

func TestCacheApplyMutationBumpsGeneration(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	cache := NewCache(NewMemoryStore(), client, time.Minute)
	for i := 0; i < 2; i++ {
		if err := cache.ApplyMutation(ctx, "u1", ordering.Mutation{}); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if got, err := mr.Get(generationKey("u1")); err != nil || got != "2" {
		t.Fatalf("expected generation 2, got %q %v", got, err)
	}
	if mr.Exists(generationKey("u2")) {
		t.Fatalf("expected other owner generation untouched")
	}
}
