// Package ratelimit tracks the request budget an upstream API advertises and
// gates requests before the budget runs out. It reads the
// X-RateLimit-Remaining and X-RateLimit-Reset headers and the Retry-After
// header of 429 responses. State can be shared between proxy processes
// through Redis.
package ratelimit

import (
	"time"
)

// Header names read from upstream responses.
const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks all requests when the remaining budget falls below this value.
	ThresholdCritical = 1

	// ThresholdWarning applies throttling when the remaining budget falls below this value.
	ThresholdWarning = 10

	// ThresholdHealthy indicates normal operation.
	ThresholdHealthy = 25
)

// State is the rate limit budget of one upstream.
type State struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the current window ends.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last observed.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// defaultState is assumed until the upstream reports a budget.
func defaultState(now time.Time) *State {
	return &State{
		Remaining:  ThresholdHealthy * 4,
		ResetAt:    now,
		LastUpdate: now,
		IsHealthy:  true,
	}
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Expired reports whether the window the state describes has ended.
func (s *State) Expired() bool {
	return !time.Now().Before(s.ResetAt)
}

// NeedsBlock returns true if requests must not be sent before ResetAt.
func (s *State) NeedsBlock() bool {
	return !s.Expired() && s.Remaining < ThresholdCritical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return !s.Expired() && s.Remaining < ThresholdWarning && !s.NeedsBlock()
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
