package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T, ttl time.Duration) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewRedisDeduper(client, ttl), m
}

func TestRedisDeduperReserveLifecycle(t *testing.T) {
	deduper, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	id, reserved, err := deduper.Reserve(ctx, "user", "k1")
	if err != nil || !reserved || id != "" {
		t.Fatalf("first reserve = %q, %v, %v", id, reserved, err)
	}

	id, reserved, err = deduper.Reserve(ctx, "user", "k1")
	if err != nil || reserved || id != "" {
		t.Fatalf("pending reserve = %q, %v, %v", id, reserved, err)
	}

	if err := deduper.Complete(ctx, "user", "k1", "task-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	id, reserved, err = deduper.Reserve(ctx, "user", "k1")
	if err != nil || reserved || id != "task-1" {
		t.Fatalf("completed reserve = %q, %v, %v", id, reserved, err)
	}
}

func TestRedisDeduperReleaseAllowsRetry(t *testing.T) {
	deduper, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, reserved, err := deduper.Reserve(ctx, "user", "k1"); err != nil || !reserved {
		t.Fatalf("reserve: %v %v", reserved, err)
	}
	if err := deduper.Release(ctx, "user", "k1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, reserved, err := deduper.Reserve(ctx, "user", "k1"); err != nil || !reserved {
		t.Fatalf("expected key to be reservable after release: %v %v", reserved, err)
	}
}

func TestRedisDeduperKeyNamespacing(t *testing.T) {
	deduper, m := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, reserved, _ := deduper.Reserve(ctx, "alice", "k"); !reserved {
		t.Fatal("expected alice key to be reserved")
	}
	if _, reserved, _ := deduper.Reserve(ctx, "bob", "k"); !reserved {
		t.Fatal("expected bob key to be independent of alice")
	}
	if !m.Exists("idem:alice:k") || !m.Exists("idem:bob:k") {
		t.Fatalf("unexpected keys: %v", m.Keys())
	}
}

func TestRedisDeduperKeysExpire(t *testing.T) {
	deduper, m := newTestDeduper(t, time.Second)
	ctx := context.Background()

	if _, reserved, _ := deduper.Reserve(ctx, "user", "k"); !reserved {
		t.Fatal("expected reservation")
	}
	m.FastForward(2 * time.Second)
	if _, reserved, _ := deduper.Reserve(ctx, "user", "k"); !reserved {
		t.Fatal("expected expired key to be reservable")
	}
}
