package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRateLimiterAllow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rl := NewRateLimiter(rdb, 2)
	now := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)

	allowed, used, resetAt, err := rl.Allow(context.Background(), 1, now)
	if err != nil {
		t.Fatalf("allow#1: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected first call allowed with used=1, got allowed=%v used=%d", allowed, used)
	}
	if want := now.Add(time.Hour); !resetAt.Equal(want) {
		t.Fatalf("expected reset at %v, got %v", want, resetAt)
	}

	allowed, used, _, err = rl.Allow(context.Background(), 1, now)
	if err != nil {
		t.Fatalf("allow#2: %v", err)
	}
	if !allowed || used != 2 {
		t.Fatalf("expected second call allowed with used=2, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, _, err = rl.Allow(context.Background(), 1, now)
	if err != nil {
		t.Fatalf("allow#3: %v", err)
	}
	if allowed || used != 3 {
		t.Fatalf("expected third call denied with used=3, got allowed=%v used=%d", allowed, used)
	}
}

func TestRateLimiterSeparateChats(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rl := NewRateLimiter(rdb, 1)
	now := time.Date(2026, 2, 13, 10, 30, 0, 0, time.UTC)

	if allowed, _, _, err := rl.Allow(context.Background(), 1, now); err != nil || !allowed {
		t.Fatalf("chat 1 first call: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, _, err := rl.Allow(context.Background(), 2, now); err != nil || !allowed {
		t.Fatalf("chat 2 should have its own window: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, _, err := rl.Allow(context.Background(), 1, now); err != nil || allowed {
		t.Fatalf("chat 1 second call should be denied: allowed=%v err=%v", allowed, err)
	}
}

func TestUpdateDeduplicator(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	d := NewUpdateDeduplicator(rdb, time.Hour)

	first, err := d.MarkFirst(context.Background(), 42)
	if err != nil {
		t.Fatalf("mark#1: %v", err)
	}
	if !first {
		t.Fatalf("expected first sighting of update 42")
	}

	first, err = d.MarkFirst(context.Background(), 42)
	if err != nil {
		t.Fatalf("mark#2: %v", err)
	}
	if first {
		t.Fatalf("expected duplicate to be flagged")
	}

	first, err = d.MarkFirst(context.Background(), 43)
	if err != nil {
		t.Fatalf("mark#3: %v", err)
	}
	if !first {
		t.Fatalf("expected different update id to pass")
	}
}
