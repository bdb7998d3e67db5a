package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/marketplace-core/internal/core/domain/cache"
	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/metrics"
)

type cacheStats cache.Stats

func (s cacheStats) Stats() cache.Stats { return cache.Stats(s) }

type limiterStats []ratelimit.ProfileStats

func (s limiterStats) Stats() []ratelimit.ProfileStats { return s }

type sessionStats session.Stats

func (s sessionStats) Stats() session.Stats { return session.Stats(s) }

func TestCacheCollector(t *testing.T) {
	c := metrics.NewCacheCollector(cacheStats{Hits: 3, Misses: 1, Sets: 2, BytesSaved: 512, TotalLatency: 1500 * time.Millisecond})

	expected := `
# HELP marketplace_cache_lookups_total Cache lookups by result.
# TYPE marketplace_cache_lookups_total counter
marketplace_cache_lookups_total{result="hit"} 3
marketplace_cache_lookups_total{result="miss"} 1
# HELP marketplace_cache_hit_ratio Hits over lookups since the last reset.
# TYPE marketplace_cache_hit_ratio gauge
marketplace_cache_hit_ratio 0.75
# HELP marketplace_cache_store_latency_seconds_total Cumulative store round trip time.
# TYPE marketplace_cache_store_latency_seconds_total counter
marketplace_cache_store_latency_seconds_total 1.5
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"marketplace_cache_lookups_total", "marketplace_cache_hit_ratio", "marketplace_cache_store_latency_seconds_total"))
	require.Equal(t, 10, testutil.CollectAndCount(c))
}

func TestRateLimitCollector(t *testing.T) {
	c := metrics.NewRateLimitCollector(limiterStats{
		{Profile: ratelimit.ProfileAuth, Allowed: 20, Rejected: 4, Refunded: 7},
		{Profile: ratelimit.ProfileSearch, Allowed: 60, Degraded: 2},
	})

	expected := `
# HELP marketplace_rate_limit_refunds_total Requests given back after a successful attempt.
# TYPE marketplace_rate_limit_refunds_total counter
marketplace_rate_limit_refunds_total{profile="auth"} 7
marketplace_rate_limit_refunds_total{profile="search"} 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "marketplace_rate_limit_refunds_total"))
	require.Equal(t, 6, testutil.CollectAndCount(c, "marketplace_rate_limit_decisions_total"))
}

func TestSessionCollector(t *testing.T) {
	c := metrics.NewSessionCollector(sessionStats{
		Created:  5,
		Rejected: map[string]int64{"fingerprint": 2, "expired": 1},
	})

	expected := `
# HELP marketplace_session_rejected_total Rejected session validations by reason.
# TYPE marketplace_session_rejected_total counter
marketplace_session_rejected_total{reason="expired"} 1
marketplace_session_rejected_total{reason="fingerprint"} 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "marketplace_session_rejected_total"))
}

func TestRegister(t *testing.T) {
	up := true
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, metrics.Register(reg, metrics.Sources{
		Cache:   cacheStats{},
		StoreUp: func() bool { return up },
	}))

	n, err := testutil.GatherAndCount(reg, "marketplace_store_available")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	gauge := metrics.NewStoreAvailabilityGauge(func() bool { return up })
	require.Equal(t, 1.0, testutil.ToFloat64(gauge))
	up = false
	require.Equal(t, 0.0, testutil.ToFloat64(gauge))

	// registering the same collectors twice is refused
	require.Error(t, metrics.Register(reg, metrics.Sources{Cache: cacheStats{}}))
}
