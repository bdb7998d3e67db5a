package services_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	impl "github.com/avatarctic/marketplace-core/internal/application/services"
	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/memory"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/repositories"
	tmocks "github.com/avatarctic/marketplace-core/test/mocks"
	"github.com/avatarctic/marketplace-core/test/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Test: the 21st auth attempt in a 900s window is rejected and the next window admits again
func TestRateLimiter_AuthProfileRollsOver(t *testing.T) {
	_, store := testutil.NewStore(t)
	clock := &fakeClock{now: time.Unix(900*2_000_000+10, 0)}
	svc := impl.NewRateLimiterService(repositories.NewRateLimitRedisRepository(store, ""), &impl.RateLimiterConfig{Clock: clock.Now}, nil)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		d, err := svc.Admit(ctx, "client-a", ratelimit.ProfileAuth)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		require.Equal(t, 20-i, d.Remaining)
		require.False(t, d.Degraded)
	}
	d, err := svc.Admit(ctx, "client-a", ratelimit.ProfileAuth)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Equal(t, 20, d.Limit)
	require.Equal(t, time.Unix(900*2_000_001, 0), d.ResetAt)
	require.Equal(t, "rate_limit:auth:client-a:2000000", d.Key)

	// other profiles and identifiers are independent
	d, err = svc.Admit(ctx, "client-a", ratelimit.ProfileAPI)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = svc.Admit(ctx, "client-b", ratelimit.ProfileAuth)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clock.Advance(900 * time.Second)
	d, err = svc.Admit(ctx, "client-a", ratelimit.ProfileAuth)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 19, d.Remaining)
}

// Test: N concurrent admits against limit L admit exactly min(N, L)
func TestRateLimiter_ConcurrentAdmitsAreExact(t *testing.T) {
	for _, tc := range []struct{ n, limit int }{{50, 20}, {10, 20}} {
		_, store := testutil.NewStore(t)
		clock := &fakeClock{now: time.Unix(1_800_000_000, 0)}
		svc := impl.NewRateLimiterService(repositories.NewRateLimitRedisRepository(store, ""), &impl.RateLimiterConfig{Clock: clock.Now}, nil)

		var allowed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < tc.n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := svc.AdmitWindow(context.Background(), "hot", time.Hour, tc.limit)
				assert.NoError(t, err)
				if d.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, min(tc.n, tc.limit), allowed.Load())
	}
}

func TestRateLimiter_FailsOpenWhenStoreUnavailable(t *testing.T) {
	svc := impl.NewRateLimiterService(repositories.NewRateLimitRedisRepository(tmocks.UnavailableStore{}, ""), nil, nil)
	for _, p := range []ratelimit.Profile{ratelimit.ProfileAPI, ratelimit.ProfileAuth, ratelimit.ProfileUpload, ratelimit.ProfileSearch, ratelimit.ProfilePasswordReset} {
		for i := 0; i < 30; i++ {
			d, err := svc.Admit(context.Background(), "c", p)
			require.NoError(t, err)
			require.True(t, d.Allowed)
			require.True(t, d.Degraded)
		}
	}
}

func TestRateLimiter_LocalFallbackKeepsLimiting(t *testing.T) {
	svc := impl.NewRateLimiterService(
		repositories.NewRateLimitRedisRepository(tmocks.UnavailableStore{}, ""),
		&impl.RateLimiterConfig{Local: memory.NewLimiterStore()},
		nil,
	)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d, err := svc.Admit(ctx, "c", ratelimit.ProfilePasswordReset)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.True(t, d.Degraded)
	}
	d, err := svc.Admit(ctx, "c", ratelimit.ProfilePasswordReset)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.True(t, d.Degraded)
}

func TestRateLimiter_RefundSkipsSuccessfulAttempts(t *testing.T) {
	mr, store := testutil.NewStore(t)
	svc := impl.NewRateLimiterService(repositories.NewRateLimitRedisRepository(store, ""), &impl.RateLimiterConfig{
		Policies: map[ratelimit.Profile]ratelimit.Policy{
			ratelimit.ProfileAuth: {Window: time.Minute, MaxRequests: 2, SkipSuccessful: true},
		},
	}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := svc.Admit(ctx, "user@example.com", ratelimit.ProfileAuth)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.NoError(t, svc.Refund(ctx, d))
		v, err := mr.Get(d.Key)
		require.NoError(t, err)
		require.Equal(t, "0", v)
	}

	stats := svc.Stats()
	require.Len(t, stats, 1)
	require.EqualValues(t, 5, stats[0].Allowed)
	require.EqualValues(t, 5, stats[0].Refunded)
}

func TestRateLimiter_ContractErrors(t *testing.T) {
	svc := impl.NewRateLimiterService(repositories.NewRateLimitRedisRepository(tmocks.UnavailableStore{}, ""), nil, nil)
	_, err := svc.Admit(context.Background(), "c", ratelimit.Profile("nope"))
	require.ErrorIs(t, err, ratelimit.ErrUnknownProfile)
	_, err = svc.Admit(context.Background(), "  ", ratelimit.ProfileAPI)
	require.ErrorIs(t, err, ratelimit.ErrMissingIdentifier)
	_, err = svc.AdmitWindow(context.Background(), "c", 0, 10)
	require.ErrorIs(t, err, ratelimit.ErrInvalidWindowLimit)
}
