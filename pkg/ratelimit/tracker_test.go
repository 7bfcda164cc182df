package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis creates a test Redis client, skipping when none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestUpdateFromResponse(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		headers       http.Header
		wantRemaining int
		wantHealthy   bool
		wantErr       bool
	}{
		{
			name:          "healthy budget",
			status:        http.StatusOK,
			headers:       headers(HeaderRemaining, "80", HeaderReset, "60"),
			wantRemaining: 80,
			wantHealthy:   true,
		},
		{
			name:          "low budget",
			status:        http.StatusOK,
			headers:       headers(HeaderRemaining, "5", HeaderReset, "30"),
			wantRemaining: 5,
		},
		{
			name:          "too many requests",
			status:        http.StatusTooManyRequests,
			headers:       headers(HeaderRetryAfter, "2"),
			wantRemaining: 0,
		},
		{
			name:    "invalid remaining header",
			status:  http.StatusOK,
			headers: headers(HeaderRemaining, "lots", HeaderReset, "30"),
			wantErr: true,
		},
		{
			name:    "missing reset header",
			status:  http.StatusOK,
			headers: headers(HeaderRemaining, "5"),
			wantErr: true,
		},
		{
			name:    "invalid retry-after",
			status:  http.StatusTooManyRequests,
			headers: headers(HeaderRetryAfter, "soon"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(nil, "test", zerolog.Nop())
			err := tracker.UpdateFromResponse(context.Background(), tt.status, tt.headers)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UpdateFromResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			state, err := tracker.GetState(context.Background())
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if state.Remaining != tt.wantRemaining {
				t.Errorf("Remaining = %d, want %d", state.Remaining, tt.wantRemaining)
			}
			if state.IsHealthy != tt.wantHealthy {
				t.Errorf("IsHealthy = %v, want %v", state.IsHealthy, tt.wantHealthy)
			}
		})
	}
}

func TestUpdateFromResponse_NoHeadersKeepsState(t *testing.T) {
	tracker := NewTracker(nil, "test", zerolog.Nop())
	ctx := context.Background()

	if err := tracker.UpdateFromResponse(ctx, http.StatusOK, headers(HeaderRemaining, "3", HeaderReset, "60")); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}
	if err := tracker.UpdateFromResponse(ctx, http.StatusOK, http.Header{}); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	state, _ := tracker.GetState(ctx)
	if state.Remaining != 3 {
		t.Errorf("Remaining = %d, want 3", state.Remaining)
	}
}

func TestGetState_DefaultHealthy(t *testing.T) {
	state, err := NewTracker(nil, "test", zerolog.Nop()).GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsHealthy || state.NeedsBlock() || state.NeedsThrottling() {
		t.Errorf("default state = %+v, want healthy", state)
	}
}

func TestShouldAllowRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy allows", func(t *testing.T) {
		tracker := NewTracker(nil, "test", zerolog.Nop())
		allowed, wait, err := tracker.ShouldAllowRequest(ctx)
		if err != nil || !allowed || wait != 0 {
			t.Errorf("ShouldAllowRequest() = %v, %v, %v; want true, 0, nil", allowed, wait, err)
		}
	})

	t.Run("exhausted blocks until reset", func(t *testing.T) {
		tracker := NewTracker(nil, "test", zerolog.Nop())
		if err := tracker.UpdateFromResponse(ctx, http.StatusTooManyRequests, headers(HeaderRetryAfter, "30")); err != nil {
			t.Fatal(err)
		}
		allowed, wait, err := tracker.ShouldAllowRequest(ctx)
		if err != nil {
			t.Fatalf("ShouldAllowRequest() error = %v", err)
		}
		if allowed {
			t.Error("ShouldAllowRequest() allowed an exhausted budget")
		}
		if wait <= 0 || wait > 30*time.Second {
			t.Errorf("wait = %v, want (0, 30s]", wait)
		}
	})

	t.Run("low budget throttles", func(t *testing.T) {
		tracker := NewTracker(nil, "test", zerolog.Nop())
		tracker.SetThrottle(20 * time.Millisecond)
		if err := tracker.UpdateFromResponse(ctx, http.StatusOK, headers(HeaderRemaining, "2", HeaderReset, "60")); err != nil {
			t.Fatal(err)
		}
		start := time.Now()
		allowed, _, err := tracker.ShouldAllowRequest(ctx)
		if err != nil || !allowed {
			t.Fatalf("ShouldAllowRequest() = %v, %v; want true, nil", allowed, err)
		}
		if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
			t.Errorf("throttle delay = %v, want >= 20ms", elapsed)
		}
	})

	t.Run("throttle honours context", func(t *testing.T) {
		tracker := NewTracker(nil, "test", zerolog.Nop())
		tracker.SetThrottle(time.Minute)
		if err := tracker.UpdateFromResponse(ctx, http.StatusOK, headers(HeaderRemaining, "2", HeaderReset, "60")); err != nil {
			t.Fatal(err)
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		allowed, _, err := tracker.ShouldAllowRequest(cctx)
		if allowed || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("ShouldAllowRequest() = %v, %v; want false, DeadlineExceeded", allowed, err)
		}
	})
}

func TestTracker_RedisSharedState(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	writer := NewTracker(client, "api.example.com", zerolog.Nop())
	reader := NewTracker(client, "api.example.com", zerolog.Nop())
	other := NewTracker(client, "other.example.com", zerolog.Nop())

	if err := writer.UpdateFromResponse(ctx, http.StatusOK, headers(HeaderRemaining, "0", HeaderReset, "60")); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	allowed, _, err := reader.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if allowed {
		t.Error("tracker sharing the scope should see the exhausted budget")
	}

	allowed, _, err = other.ShouldAllowRequest(ctx)
	if err != nil || !allowed {
		t.Errorf("other scope ShouldAllowRequest() = %v, %v; want true, nil", allowed, err)
	}

	ttl, err := client.TTL(ctx, writer.redisKey()).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 {
		t.Errorf("state key TTL = %v, want expiry", ttl)
	}
}
