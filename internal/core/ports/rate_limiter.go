package ports

import (
	"context"
	"time"

	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
)

// RateLimitRepository owns the counter keys of the fixed-window limiter.
type RateLimitRepository interface {
	// IncrementWindow counts one request for identifier in the window windowID and returns
	// the new count and the counter key.
	IncrementWindow(ctx context.Context, profile ratelimit.Profile, identifier string, windowID int64, window time.Duration) (count int64, key string, err error)
	// Decrement takes one request back from a counter, never going below zero.
	Decrement(ctx context.Context, key string) (int64, error)
}

// LocalLimiter is the in-process fallback used while the store is unavailable.
type LocalLimiter interface {
	Allow(key string, policy ratelimit.Policy) (allowed bool, remaining int)
}

// RateLimiter admits or rejects requests. It is safe for concurrent use and fails open.
type RateLimiter interface {
	Admit(ctx context.Context, identifier string, profile ratelimit.Profile) (ratelimit.Decision, error)
	AdmitWindow(ctx context.Context, identifier string, window time.Duration, max int) (ratelimit.Decision, error)
	// Refund gives back the request counted by d, for skip-successful profiles.
	Refund(ctx context.Context, d ratelimit.Decision) error
	Policy(profile ratelimit.Profile) (ratelimit.Policy, bool)
	Stats() []ratelimit.ProfileStats
}
