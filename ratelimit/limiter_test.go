package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestConsumeWithinLimit(t *testing.T) {
	client, _ := newTestRedis(t)
	limiter := NewLimiter(client, "test")
	ctx := context.Background()
	limit := Limit{Max: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		d, err := limiter.Consume(ctx, "k", limit)
		if err != nil {
			t.Fatalf("Consume %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d denied", i)
		}
		if d.Remaining != 3-(i+1) {
			t.Fatalf("attempt %d: remaining %d, want %d", i, d.Remaining, 3-(i+1))
		}
	}

	d, err := limiter.Consume(ctx, "k", limit)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth attempt allowed")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("implausible RetryAfter %s", d.RetryAfter)
	}
}

func TestConsumeWindowResets(t *testing.T) {
	client, mr := newTestRedis(t)
	limiter := NewLimiter(client, "test")
	ctx := context.Background()
	limit := Limit{Max: 1, Window: time.Minute}

	if d, _ := limiter.Consume(ctx, "k", limit); !d.Allowed {
		t.Fatal("first attempt denied")
	}
	if d, _ := limiter.Consume(ctx, "k", limit); d.Allowed {
		t.Fatal("second attempt in window allowed")
	}

	mr.FastForward(2 * time.Minute)

	if d, _ := limiter.Consume(ctx, "k", limit); !d.Allowed {
		t.Fatal("attempt after window expiry denied")
	}
}

func TestConsumeKeysAreIndependent(t *testing.T) {
	client, _ := newTestRedis(t)
	limiter := NewLimiter(client, "test")
	ctx := context.Background()
	limit := Limit{Max: 1, Window: time.Minute}

	if d, _ := limiter.Consume(ctx, "a", limit); !d.Allowed {
		t.Fatal("key a denied")
	}
	if d, _ := limiter.Consume(ctx, "b", limit); !d.Allowed {
		t.Fatal("key b throttled by key a")
	}
}

func TestConsumeZeroMaxDisablesLimit(t *testing.T) {
	client, _ := newTestRedis(t)
	limiter := NewLimiter(client, "test")

	d, err := limiter.Consume(context.Background(), "k", Limit{})
	if err != nil || !d.Allowed {
		t.Fatalf("zero limit should pass through, got %+v err %v", d, err)
	}
}

func TestReset(t *testing.T) {
	client, _ := newTestRedis(t)
	limiter := NewLimiter(client, "test")
	ctx := context.Background()
	limit := Limit{Max: 1, Window: time.Minute}

	_, _ = limiter.Consume(ctx, "k", limit)
	if err := limiter.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if d, _ := limiter.Consume(ctx, "k", limit); !d.Allowed {
		t.Fatal("attempt after reset denied")
	}
}
