package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
)

func setupTestRateLimiter(t *testing.T, limit int, window time.Duration) *RateLimiter {
	t.Helper()
	client := setupTestClient(t)

	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  limit,
		Window: window,
	})

	// Distinct members per call; miniredis and a fast loop can share a nanosecond.
	base := time.Now()
	var tick int64
	limiter.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Microsecond)
	}
	return limiter
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := setupTestRateLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "ip:10.0.0.1")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Remaining != 4-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 4-i, result.Remaining)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter := setupTestRateLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, _ := limiter.Allow(ctx, "ip:10.0.0.1")
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	result, err := limiter.Allow(ctx, "ip:10.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("request should be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	limiter := setupTestRateLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		limiter.Allow(ctx, "ip:a")
	}

	result, _ := limiter.Allow(ctx, "ip:b")
	if !result.Allowed {
		t.Fatal("ip:b should be allowed")
	}
	if result.Remaining != 1 {
		t.Errorf("expected remaining 1, got %d", result.Remaining)
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter := setupTestRateLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if r, _ := limiter.Allow(ctx, "ip:a"); !r.Allowed {
		t.Fatal("first request should be allowed")
	}

	later := time.Now().Add(2 * time.Minute)
	limiter.now = func() time.Time { return later }

	if r, _ := limiter.Allow(ctx, "ip:a"); !r.Allowed {
		t.Fatal("request after the window should be allowed")
	}
}

func setupTestClient(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := NewFromAddr(mr.Addr(), zap.NewNop())
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}
