package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/suite"

	"github.com/avatarctic/marketplace-core/internal/application/services"
	"github.com/avatarctic/marketplace-core/internal/core/domain/cache"
	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/codec"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/health"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/httpserver"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/repositories"
	tmocks "github.com/avatarctic/marketplace-core/test/mocks"
	"github.com/avatarctic/marketplace-core/test/testutil"
)

// client is what every request in the suite looks like on the wire. httptest
// requests come from 192.0.2.1.
var client = session.RequestContext{
	IP:             "192.0.2.1",
	UserAgent:      "integration-suite/1.0",
	AcceptLanguage: "en-GB",
	AcceptEncoding: "gzip",
}

// IntegrationTestSuite runs the HTTP surface over the real services and an
// in-process Redis.
type IntegrationTestSuite struct {
	suite.Suite
	mr       *miniredis.Miniredis
	sessions *services.SessionService
	cache    *services.CacheService
	notifier *tmocks.NotifierMock
	server   *httpserver.Server
}

func (s *IntegrationTestSuite) SetupTest() {
	mr, store := testutil.NewStore(s.T())
	s.mr = mr
	s.notifier = &tmocks.NotifierMock{}

	s.cache = services.NewCacheService(store, codec.New(codec.Options{Threshold: 1024, Algorithm: codec.AlgoZstd}), cache.DefaultTTLTiers(), nil)
	limiter := services.NewRateLimiterService(repositories.NewRateLimitRedisRepository(store, "rate_limit"), &services.RateLimiterConfig{
		Policies: map[ratelimit.Profile]ratelimit.Policy{
			ratelimit.ProfileAPI:  {Window: time.Minute, MaxRequests: 3},
			ratelimit.ProfileAuth: {Window: time.Minute, MaxRequests: 5, SkipSuccessful: true},
		},
		Clock: func() time.Time { return time.Unix(1_800_000_000, 0) },
	}, nil)
	s.sessions = services.NewSessionService(repositories.NewSessionRedisRepository(store, nil), s.notifier, services.SessionServiceConfig{
		Secret: "integration-secret-integration-secret",
		Issuer: "marketplace",
		Lifetimes: session.Lifetimes{
			Default:     24 * time.Hour,
			RememberMe:  30 * 24 * time.Hour,
			AdminMaxAge: 4 * time.Hour,
			Absolute:    30 * 24 * time.Hour,
		},
	}, nil)
	warmer := services.NewWarmupService(s.cache, services.WarmupConfig{DatasetTimeout: time.Second}, nil)

	s.server = httpserver.NewServer(&httpserver.ServerConfig{SessionCookieName: "sid"}, nil, httpserver.ServerDeps{
		Cache:          s.cache,
		RateLimiter:    limiter,
		Sessions:       s.sessions,
		Warmer:         warmer,
		HealthCheckers: []ports.HealthChecker{health.NewStoreHealthChecker(store)},
	})
}

func (s *IntegrationTestSuite) login(userID string, role session.Role) string {
	issued, err := s.sessions.Create(context.Background(), session.CreateRequest{
		UserID:  userID,
		Email:   userID + "@example.com",
		Role:    role,
		Request: client,
	})
	s.Require().NoError(err)
	return issued.Token
}

func (s *IntegrationTestSuite) do(method, path, token string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("User-Agent", client.UserAgent)
	req.Header.Set("Accept-Language", client.AcceptLanguage)
	req.Header.Set("Accept-Encoding", client.AcceptEncoding)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: token})
	}
	for _, fn := range mutate {
		fn(req)
	}
	rec := httptest.NewRecorder()
	s.server.Echo().ServeHTTP(rec, req)
	return rec
}

func (s *IntegrationTestSuite) TestHealthCheck() {
	rec := s.do(http.MethodGet, "/health", "")
	s.Equal(http.StatusOK, rec.Code)

	var health map[string]interface{}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &health))
	s.Equal("healthy", health["status"])
}

func (s *IntegrationTestSuite) TestAdminReadsCacheStatsWithinRateLimit() {
	token := s.login("admin-1", session.RoleAdmin)

	for i := 2; i >= 0; i-- {
		rec := s.do(http.MethodGet, "/api/v1/admin/cache/stats", token)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("3", rec.Header().Get("X-RateLimit-Limit"))
		s.Equal(strconv.Itoa(i), rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := s.do(http.MethodGet, "/api/v1/admin/cache/stats", token)
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.NotEmpty(rec.Header().Get("Retry-After"))
}

func (s *IntegrationTestSuite) TestForgedTokenFloodIsThrottled() {
	for i := 0; i < 5; i++ {
		s.Require().Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1/admin/cache/stats", "forged").Code)
	}
	rec := s.do(http.MethodGet, "/api/v1/admin/cache/stats", "forged")
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.NotEmpty(rec.Header().Get("Retry-After"))

	// the block is per client address, so a valid session from it waits too
	token := s.login("admin-1", session.RoleAdmin)
	s.Equal(http.StatusTooManyRequests, s.do(http.MethodGet, "/api/v1/admin/cache/stats", token).Code)
}

func (s *IntegrationTestSuite) TestSuccessfulRequestsDoNotUseTheAuthBudget() {
	token := s.login("u-3", session.RoleUser)
	for i := 0; i < 3; i++ {
		s.Require().Equal(http.StatusOK, s.do(http.MethodGet, "/api/v1/sessions/me", token).Code)
	}
	// three successes were refunded, so five failures still fit
	for i := 0; i < 5; i++ {
		s.Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1/sessions/me", "forged").Code)
	}
}

func (s *IntegrationTestSuite) TestStolenTokenFromAnotherDeviceIsRejected() {
	token := s.login("u-1", session.RoleUser)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/api/v1/sessions/me", token).Code)

	rec := s.do(http.MethodGet, "/api/v1/sessions/me", token, func(r *http.Request) {
		r.Header.Set("User-Agent", "curl/8.0")
	})
	s.Equal(http.StatusUnauthorized, rec.Code)

	s.Eventually(func() bool { return len(s.notifier.Recorded()) == 1 }, time.Second, 10*time.Millisecond)
	s.Equal(ports.EventFingerprintMismatch, s.notifier.Recorded()[0].Kind)

	// the owner keeps working
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/api/v1/sessions/me", token).Code)
}

func (s *IntegrationTestSuite) TestForceLogoutEndsEverySessionOfTheUser() {
	admin := s.login("admin-1", session.RoleAdmin)
	phone := s.login("u-7", session.RoleUser)
	laptop := s.login("u-7", session.RoleUser)

	rec := s.do(http.MethodGet, "/api/v1/admin/users/u-7/sessions", admin)
	s.Require().Equal(http.StatusOK, rec.Code)
	var listed []session.Session
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &listed))
	s.Len(listed, 2)

	rec = s.do(http.MethodDelete, "/api/v1/admin/users/u-7/sessions", admin)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"terminated":2}`, rec.Body.String())

	s.Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1/sessions/me", phone).Code)
	s.Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1/sessions/me", laptop).Code)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/api/v1/sessions/me", admin).Code)
}

func (s *IntegrationTestSuite) TestLogoutInvalidatesToken() {
	token := s.login("u-2", session.RoleUser)
	s.Equal(http.StatusNoContent, s.do(http.MethodDelete, "/api/v1/sessions/me", token).Code)
	s.Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1/sessions/me", token).Code)
}

func (s *IntegrationTestSuite) TestStoreOutageDegradesInsteadOfFailing() {
	token := s.login("admin-1", session.RoleAdmin)
	s.mr.Close()

	rec := s.do(http.MethodGet, "/api/v1/admin/cache/stats", token)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("true", rec.Header().Get("X-Session-Degraded"))

	rec = s.do(http.MethodGet, "/health", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"redis":"unhealthy"`)

	// operations that need the registry report the outage
	rec = s.do(http.MethodDelete, "/api/v1/admin/users/u-9/sessions", token)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}
