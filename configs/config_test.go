package configs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/avatarctic/marketplace-core/configs"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", secret)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 4*time.Hour, cfg.Session.AdminMaxAge)
	assert.Equal(t, 24*time.Hour, cfg.Session.DefaultTTL)
	assert.Equal(t, "gzip", cfg.Cache.CompressionAlgorithm)
	assert.Equal(t, 1024, cfg.Cache.CompressionThreshold)

	auth := cfg.RateLimit.Profiles["auth"]
	assert.Equal(t, 15*time.Minute, auth.Window)
	assert.Equal(t, 20, auth.MaxRequests)
	assert.True(t, auth.SkipSuccessful)
	assert.Len(t, cfg.RateLimit.Profiles, 5)
	assert.Equal(t, "localhost:6379", cfg.Redis.RedisAddr())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", secret)
	t.Setenv("RATE_LIMIT_SEARCH_MAX", "300")
	t.Setenv("RATE_LIMIT_SEARCH_WINDOW", "30s")
	t.Setenv("SESSION_ADMIN_MAX_AGE", "2h")
	t.Setenv("TRUST_X_FORWARDED_FOR", "true")
	t.Setenv("REDIS_BREAKER_FAILURES", "not-a-number")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.RateLimit.Profiles["search"].MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Profiles["search"].Window)
	assert.Equal(t, 2*time.Hour, cfg.Session.AdminMaxAge)
	assert.True(t, cfg.Server.TrustForwardedFor)
	assert.EqualValues(t, 5, cfg.Redis.BreakerFailures, "unparsable values fall back to defaults")
}

func TestLoad_RejectsWeakSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	_, err := config.Load()
	require.ErrorContains(t, err, "SESSION_SECRET")

	t.Setenv("SESSION_SECRET", "short")
	_, err = config.Load()
	require.ErrorContains(t, err, "at least 32 bytes")
}

func TestValidate_RejectsBrokenProfile(t *testing.T) {
	t.Setenv("SESSION_SECRET", secret)
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.RateLimit.Profiles["upload"] = config.RateLimitProfileConfig{Window: time.Hour}
	require.ErrorContains(t, cfg.Validate(), `"upload"`)
}

func TestLoad_RejectsNonPositiveSessionLifetimes(t *testing.T) {
	for _, name := range []string{"SESSION_ABSOLUTE_LIFETIME", "SESSION_REMEMBER_ME_TTL", "SESSION_DEFAULT_TTL", "SESSION_ADMIN_MAX_AGE"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("SESSION_SECRET", secret)
			t.Setenv(name, "0s")
			_, err := config.Load()
			require.ErrorContains(t, err, name)

			t.Setenv(name, "-1h")
			_, err = config.Load()
			require.ErrorContains(t, err, name)
		})
	}
}
