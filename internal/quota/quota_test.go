package quota

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

// =============================================================================
// MemoryTracker Tests
// =============================================================================

// TestMemoryTracker_ExhaustsAndResets verifies the limit, the non-consuming
// failure, and the window reset.
func TestMemoryTracker_ExhaustsAndResets(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	tr := NewMemoryTracker(Config{Limit: 3, Window: time.Hour}, clock.Now)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		st, err := tr.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		if st.RequestsUsed != i || st.RequestsRemaining != 3-i {
			t.Errorf("acquire %d: unexpected status %+v", i, st)
		}
	}

	st, err := tr.Acquire(ctx)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if st.RequestsUsed != 3 || st.RequestsRemaining != 0 {
		t.Errorf("failed acquire should not consume, got %+v", st)
	}
	wantReset := clock.now.Add(time.Hour)
	if !st.ResetAt.Equal(wantReset) {
		t.Errorf("expected reset at %v, got %v", wantReset, st.ResetAt)
	}

	clock.now = clock.now.Add(time.Hour)
	if _, err := tr.Acquire(ctx); err != nil {
		t.Errorf("expected budget after reset, got %v", err)
	}
	st, _ = tr.Status(ctx)
	if st.RequestsUsed != 1 {
		t.Errorf("expected 1 used after reset, got %d", st.RequestsUsed)
	}
}

// TestMemoryTracker_StatusDoesNotConsume verifies Status is read-only.
func TestMemoryTracker_StatusDoesNotConsume(t *testing.T) {
	tr := NewMemoryTracker(Config{}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := tr.Status(ctx); err != nil {
			t.Fatalf("Status failed: %v", err)
		}
	}
	st, _ := tr.Status(ctx)
	if st.RequestsUsed != 0 || st.RequestsRemaining != 100 || st.Limit != 100 {
		t.Errorf("unexpected default status %+v", st)
	}
}

// =============================================================================
// RedisTracker Tests
// =============================================================================

// TestRedisTracker runs against a live redis when THREATPULSE_TEST_REDIS
// names its address.
func TestRedisTracker(t *testing.T) {
	addr := os.Getenv("THREATPULSE_TEST_REDIS")
	if addr == "" {
		t.Skip("THREATPULSE_TEST_REDIS not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	tr := NewRedisTracker(client, Config{Limit: 2, Window: time.Minute}, nil)
	tr.key = "threatpulse:test:quota"
	client.Del(ctx, tr.key)
	defer client.Del(ctx, tr.key)

	for i := 0; i < 2; i++ {
		if _, err := tr.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
	if _, err := tr.Acquire(ctx); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	st, err := tr.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.RequestsUsed != 2 || st.RequestsRemaining != 0 {
		t.Errorf("unexpected status %+v", st)
	}
}

// TestRedisTracker_FailsOpen verifies an unreachable redis allows requests.
func TestRedisTracker_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	tr := NewRedisTracker(client, DefaultConfig(), nil)
	if _, err := tr.Acquire(context.Background()); err != nil {
		t.Errorf("expected fail-open, got %v", err)
	}
}
