package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pagestore_upstream_ratelimit_remaining",
		Help: "Requests remaining in the current upstream rate limit window",
	}, []string{"scope"})

	rateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestore_upstream_ratelimit_blocks_total",
		Help: "Total number of requests blocked because the upstream budget was exhausted",
	}, []string{"scope"})

	rateLimitThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestore_upstream_ratelimit_throttles_total",
		Help: "Total number of requests delayed because the upstream budget was low",
	}, []string{"scope"})
)

// DefaultThrottle is the delay applied to requests in the warning state.
const DefaultThrottle = 1 * time.Second

// Tracker monitors the rate limit budget of one upstream and gates requests.
// With a Redis client the state is shared by every tracker using the same
// scope; without one it lives in process memory.
type Tracker struct {
	redis    *redis.Client
	scope    string
	throttle time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	local *State
}

// NewTracker creates a new rate limit tracker for scope, usually the
// upstream host. redisClient may be nil.
func NewTracker(redisClient *redis.Client, scope string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:    redisClient,
		scope:    scope,
		throttle: DefaultThrottle,
		logger:   logger.With().Str("ratelimit_scope", scope).Logger(),
	}
}

// SetThrottle changes the delay applied in the warning state.
func (t *Tracker) SetThrottle(d time.Duration) {
	t.throttle = d
}

func (t *Tracker) redisKey() string {
	return "pagestore:ratelimit:" + t.scope
}

// GetState returns the current state. A default healthy state is returned
// while the upstream has not reported a budget.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.local == nil {
			return defaultState(time.Now()), nil
		}
		state := *t.local
		return &state, nil
	}

	fields, err := t.redis.HGetAll(ctx, t.redisKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if len(fields) == 0 {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default healthy state")
		return defaultState(time.Now()), nil
	}

	remaining, err := strconv.Atoi(fields["remaining"])
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	resetUnix, err := strconv.ParseInt(fields["reset_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset timestamp: %w", err)
	}
	lastUnix, err := strconv.ParseInt(fields["last_update"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}

	state := &State{
		Remaining:  remaining,
		ResetAt:    time.UnixMilli(resetUnix),
		LastUpdate: time.UnixMilli(lastUnix),
	}
	state.UpdateHealth()
	return state, nil
}

// UpdateFromResponse records the budget reported by an upstream response.
// Responses without rate limit headers leave the state unchanged.
func (t *Tracker) UpdateFromResponse(ctx context.Context, status int, headers http.Header) error {
	now := time.Now()
	state := &State{LastUpdate: now}

	if status == http.StatusTooManyRequests {
		wait := DefaultThrottle
		if v := headers.Get(HeaderRetryAfter); v != "" {
			secs, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s header: %w", HeaderRetryAfter, err)
			}
			wait = time.Duration(secs) * time.Second
		}
		state.Remaining = 0
		state.ResetAt = now.Add(wait)
	} else {
		remainStr := headers.Get(HeaderRemaining)
		if remainStr == "" {
			return nil
		}
		remain, err := strconv.Atoi(remainStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
		}
		resetStr := headers.Get(HeaderReset)
		if resetStr == "" {
			return fmt.Errorf("%s header missing", HeaderReset)
		}
		resetSeconds, err := strconv.Atoi(resetStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}
		state.Remaining = remain
		state.ResetAt = now.Add(time.Duration(resetSeconds) * time.Second)
	}
	state.UpdateHealth()

	if err := t.store(ctx, state); err != nil {
		return err
	}

	rateLimitRemaining.WithLabelValues(t.scope).Set(float64(state.Remaining))

	switch {
	case state.NeedsBlock():
		t.logger.Error().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Upstream rate limit exhausted - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Upstream rate limit low - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Upstream rate limit state updated")
	}
	return nil
}

func (t *Tracker) store(ctx context.Context, state *State) error {
	if t.redis == nil {
		t.mu.Lock()
		t.local = state
		t.mu.Unlock()
		return nil
	}

	key := t.redisKey()
	pipe := t.redis.Pipeline()
	pipe.HSet(ctx, key,
		"remaining", state.Remaining,
		"reset_at", state.ResetAt.UnixMilli(),
		"last_update", state.LastUpdate.UnixMilli(),
	)
	pipe.ExpireAt(ctx, key, state.ResetAt.Add(time.Minute))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// ShouldAllowRequest checks whether a request may be sent now. When the
// budget is exhausted it returns false and the time until the window resets.
// In the warning state it delays for the throttle duration and allows the
// request.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsBlock() {
		wait := state.TimeUntilReset()
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", wait).
			Msg("Upstream rate limit exhausted - blocking request")
		rateLimitBlocksTotal.WithLabelValues(t.scope).Inc()
		return false, wait, nil
	}

	if state.NeedsThrottling() && t.throttle > 0 {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Msg("Upstream rate limit low - throttling request")
		rateLimitThrottlesTotal.WithLabelValues(t.scope).Inc()

		timer := time.NewTimer(t.throttle)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, 0, ctx.Err()
		case <-timer.C:
		}
	}

	return true, 0, nil
}
