package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	d, err := bucket.Allow(ctx, "tenant-a")
	if err != nil || !d.Allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", d.Allowed, err)
	}
	d, _ = bucket.Allow(ctx, "tenant-a")
	if !d.Allowed {
		t.Fatalf("expected second token allowed")
	}
	d, _ = bucket.Allow(ctx, "tenant-a")
	if d.Allowed {
		t.Fatalf("expected third token to be rejected")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("expected retry-after within one refill interval, got %s", d.RetryAfter)
	}

	// Buckets are per tenant.
	d, _ = bucket.Allow(ctx, "tenant-b")
	if !d.Allowed {
		t.Fatalf("expected other tenant to have its own bucket")
	}

	// Refill cannot be tested with miniredis.FastForward() because the Lua
	// script receives time from Go's time.Now(), not Redis's clock.
}
