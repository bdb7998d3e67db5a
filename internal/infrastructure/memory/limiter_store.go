package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
)

// LimiterStore keeps one token bucket per key for use while the shared store is down.
// Each bucket refills at max/window and holds at most max tokens, which approximates the
// fixed window within a single process.
type LimiterStore struct {
	mu           sync.Mutex
	entries      map[string]*limiterEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	policy   ratelimit.Policy
	lastSeen time.Time
}

type LimiterOption func(*LimiterStore)

func WithIdleTTL(d time.Duration) LimiterOption {
	return func(s *LimiterStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) LimiterOption {
	return func(s *LimiterStore) { s.cleanupEvery = d }
}

func WithClock(now func() time.Time) LimiterOption {
	return func(s *LimiterStore) { s.now = now }
}

var _ ports.LocalLimiter = (*LimiterStore)(nil)

func NewLimiterStore(opts ...LimiterOption) *LimiterStore {
	s := &LimiterStore{
		entries:      make(map[string]*limiterEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow consumes one token for key under policy.
func (s *LimiterStore) Allow(key string, policy ratelimit.Policy) (bool, int) {
	now := s.now()
	lim := s.limiter(key, policy, now)
	allowed := lim.AllowN(now, 1)
	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

func (s *LimiterStore) limiter(key string, policy ratelimit.Policy, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok && ent.policy == policy {
		ent.lastSeen = now
		return ent.lim
	}
	every := policy.Window / time.Duration(policy.MaxRequests)
	lim := rate.NewLimiter(rate.Every(every), policy.MaxRequests)
	s.entries[key] = &limiterEntry{lim: lim, policy: policy, lastSeen: now}
	return lim
}

// Len is the number of tracked keys.
func (s *LimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup drops buckets that have not been used for idleTTL.
func (s *LimiterStore) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor cleans idle buckets until ctx is done.
func (s *LimiterStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
