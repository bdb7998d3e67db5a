package httpserver

import (
	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
)

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", s.metricsEndpoint)

	api := s.echo.Group("/api/v1")

	// The auth profile runs before the session is known, so it counts per client IP.
	// It refunds requests that succeed, which leaves only failed authentications.
	sessions := api.Group("/sessions",
		s.middleware.RateLimit.Limit(ratelimit.ProfileAuth),
		s.middleware.Session.RequireSession(),
		s.middleware.RateLimit.Limit(ratelimit.ProfileAPI),
	)
	sessions.GET("/me", s.currentSession)
	sessions.DELETE("/me", s.logout)

	admin := api.Group("/admin",
		s.middleware.RateLimit.Limit(ratelimit.ProfileAuth),
		s.middleware.Session.RequireSession(),
		s.middleware.Session.RequireRole(session.RoleAdmin),
		s.middleware.RateLimit.Limit(ratelimit.ProfileAPI),
	)

	admin.GET("/cache/stats", s.getCacheStats)
	admin.DELETE("/cache/stats", s.resetCacheStats)
	admin.POST("/cache/invalidate", s.invalidateCachePattern)
	admin.POST("/cache/products/:id/invalidate", s.invalidateProduct)

	admin.GET("/warmup", s.listWarmupDatasets)
	admin.POST("/warmup", s.warmAll)
	admin.POST("/warmup/:dataset", s.warmDataset)

	admin.GET("/rate-limits", s.getRateLimitStats)

	admin.GET("/sessions/stats", s.getSessionStats)
	admin.GET("/users/:id/sessions", s.listUserSessions)
	admin.DELETE("/users/:id/sessions", s.forceLogout)
	admin.DELETE("/sessions/:session_id", s.destroySession)
}
