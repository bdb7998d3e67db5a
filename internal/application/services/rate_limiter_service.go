package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
)

// RateLimiterService is a fixed-window limiter over the shared store. Windows are
// aligned to the epoch, so a client can burst up to twice the limit across a window
// boundary; this is the accepted cost of O(1) counting.
type RateLimiterService struct {
	repo     ports.RateLimitRepository
	local    ports.LocalLimiter
	policies map[ratelimit.Profile]ratelimit.Policy
	logger   *logrus.Logger
	now      func() time.Time

	statsMu sync.Mutex
	stats   map[ratelimit.Profile]*profileCounters
}

type profileCounters struct {
	allowed, rejected, degraded, refunded atomic.Int64
}

// RateLimiterConfig groups configuration parameters for the rate limiter.
type RateLimiterConfig struct {
	Policies map[ratelimit.Profile]ratelimit.Policy
	// Local, when set, decides admission while the store is unavailable. Without it
	// every request is admitted during an outage.
	Local ports.LocalLimiter
	Clock func() time.Time
}

var _ ports.RateLimiter = (*RateLimiterService)(nil)

func NewRateLimiterService(repo ports.RateLimitRepository, cfg *RateLimiterConfig, logger *logrus.Logger) *RateLimiterService {
	policies := ratelimit.DefaultPolicies()
	s := &RateLimiterService{repo: repo, logger: logger, now: time.Now, stats: map[ratelimit.Profile]*profileCounters{}}
	if cfg != nil {
		for name, p := range cfg.Policies {
			if p.Validate() != nil {
				continue
			}
			p.Profile = name
			policies[name] = p
		}
		s.local = cfg.Local
		if cfg.Clock != nil {
			s.now = cfg.Clock
		}
	}
	s.policies = policies
	return s
}

// Policy returns the configured policy for profile.
func (s *RateLimiterService) Policy(profile ratelimit.Profile) (ratelimit.Policy, bool) {
	p, ok := s.policies[profile]
	return p, ok
}

// Admit counts one request for identifier under a named profile.
func (s *RateLimiterService) Admit(ctx context.Context, identifier string, profile ratelimit.Profile) (ratelimit.Decision, error) {
	policy, ok := s.policies[profile]
	if !ok {
		return ratelimit.Decision{}, fmt.Errorf("%w: %s", ratelimit.ErrUnknownProfile, profile)
	}
	return s.admit(ctx, identifier, policy)
}

// AdmitWindow counts one request against an ad-hoc window and limit.
func (s *RateLimiterService) AdmitWindow(ctx context.Context, identifier string, window time.Duration, max int) (ratelimit.Decision, error) {
	policy := ratelimit.Policy{Profile: ratelimit.ProfileCustom, Window: window, MaxRequests: max}
	if err := policy.Validate(); err != nil {
		return ratelimit.Decision{}, err
	}
	return s.admit(ctx, identifier, policy)
}

func (s *RateLimiterService) admit(ctx context.Context, identifier string, policy ratelimit.Policy) (ratelimit.Decision, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ratelimit.Decision{}, ratelimit.ErrMissingIdentifier
	}
	now := s.now()
	windowID := ratelimit.WindowID(now, policy.Window)
	_, resetAt := ratelimit.WindowBounds(windowID, policy.Window)
	d := ratelimit.Decision{
		Limit:   policy.MaxRequests,
		ResetAt: resetAt,
		Profile: policy.Profile,
		Window:  policy.Window,
	}

	count, key, err := s.repo.IncrementWindow(ctx, policy.Profile, identifier, windowID, policy.Window)
	if err != nil {
		return s.degraded(d, identifier, policy, err), nil
	}

	d.Key = key
	d.Count = count
	d.Allowed = count <= int64(policy.MaxRequests)
	if rem := int64(policy.MaxRequests) - count; rem > 0 {
		d.Remaining = int(rem)
	}
	s.record(policy.Profile, d)
	if !d.Allowed && s.logger != nil {
		s.logger.WithFields(logrus.Fields{"profile": policy.Profile, "identifier": identifier, "count": count, "limit": policy.MaxRequests}).Debug("rate limit exceeded")
	}
	return d, nil
}

// degraded fails open. With a local limiter configured the decision comes from it,
// otherwise the request is admitted. Either way the decision is flagged.
func (s *RateLimiterService) degraded(d ratelimit.Decision, identifier string, policy ratelimit.Policy, cause error) ratelimit.Decision {
	d.Degraded = true
	if s.local != nil {
		d.Allowed, d.Remaining = s.local.Allow(string(policy.Profile)+":"+identifier, policy)
	} else {
		d.Allowed = true
		d.Remaining = policy.MaxRequests
	}
	if s.logger != nil && !errors.Is(cause, ports.ErrUnavailable) {
		s.logger.WithFields(logrus.Fields{"profile": policy.Profile, "identifier": identifier}).WithError(cause).Warn("rate limiter: failed to increment window")
	}
	s.record(policy.Profile, d)
	return d
}

// Refund takes back the request counted by d. It is used by skip-successful profiles
// once the attempt is known to have succeeded. Degraded decisions have nothing to refund.
func (s *RateLimiterService) Refund(ctx context.Context, d ratelimit.Decision) error {
	if d.Key == "" || d.Degraded {
		return nil
	}
	if _, err := s.repo.Decrement(ctx, d.Key); err != nil {
		return fmt.Errorf("refund rate limit: %w", err)
	}
	s.counters(d.Profile).refunded.Add(1)
	return nil
}

func (s *RateLimiterService) record(profile ratelimit.Profile, d ratelimit.Decision) {
	c := s.counters(profile)
	switch {
	case d.Degraded:
		c.degraded.Add(1)
		if !d.Allowed {
			c.rejected.Add(1)
		}
	case d.Allowed:
		c.allowed.Add(1)
	default:
		c.rejected.Add(1)
	}
}

func (s *RateLimiterService) counters(profile ratelimit.Profile) *profileCounters {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	c, ok := s.stats[profile]
	if !ok {
		c = &profileCounters{}
		s.stats[profile] = c
	}
	return c
}

// Stats returns per-profile counters sorted by profile name.
func (s *RateLimiterService) Stats() []ratelimit.ProfileStats {
	s.statsMu.Lock()
	out := make([]ratelimit.ProfileStats, 0, len(s.stats))
	for p, c := range s.stats {
		out = append(out, ratelimit.ProfileStats{
			Profile:  p,
			Allowed:  c.allowed.Load(),
			Rejected: c.rejected.Load(),
			Degraded: c.degraded.Load(),
			Refunded: c.refunded.Load(),
		})
	}
	s.statsMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Profile < out[j].Profile })
	return out
}
