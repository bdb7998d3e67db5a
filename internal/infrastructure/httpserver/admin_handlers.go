package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/marketplace-core/internal/infrastructure/httpserver/helpers"
)

func (s *Server) getCacheStats(c echo.Context) error {
	stats := s.cache.Stats()
	return c.JSON(http.StatusOK, map[string]any{
		"stats":          stats,
		"hit_rate":       stats.HitRate(),
		"avg_latency_ms": float64(stats.AverageLatency().Microseconds()) / 1000,
	})
}

func (s *Server) resetCacheStats(c echo.Context) error {
	s.cache.ResetStats()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) invalidateCachePattern(c echo.Context) error {
	var req struct {
		Pattern string `json:"pattern"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Pattern) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pattern is required")
	}
	n, err := s.cache.DeleteByPattern(c.Request().Context(), req.Pattern)
	if err != nil {
		return helpers.HTTPError(err)
	}
	s.audit(c, "cache invalidated", logrus.Fields{"pattern": req.Pattern, "deleted": n})
	return c.JSON(http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) invalidateProduct(c echo.Context) error {
	n, err := s.cache.InvalidateProduct(c.Request().Context(), c.Param("id"), c.QueryParam("shop_id"))
	if err != nil {
		return helpers.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) listWarmupDatasets(c echo.Context) error {
	return c.JSON(http.StatusOK, s.warmer.Datasets())
}

func (s *Server) warmAll(c echo.Context) error {
	results := s.warmer.WarmAll(c.Request().Context())
	out := make(map[string]string, len(results))
	code := http.StatusOK
	for name, err := range results {
		if err != nil {
			out[name] = err.Error()
			code = http.StatusMultiStatus
			continue
		}
		out[name] = "ok"
	}
	return c.JSON(code, out)
}

func (s *Server) warmDataset(c echo.Context) error {
	name := c.Param("dataset")
	known := false
	for _, ds := range s.warmer.Datasets() {
		if ds.Name == name {
			known = true
			break
		}
	}
	if !known {
		return echo.NewHTTPError(http.StatusNotFound, "unknown dataset")
	}
	if err := s.warmer.WarmDataset(c.Request().Context(), name); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{name: "ok"})
}

func (s *Server) getRateLimitStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.rateLimiter.Stats())
}

func (s *Server) getSessionStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sessions.Stats())
}

func (s *Server) listUserSessions(c echo.Context) error {
	list, err := s.sessions.ListUserSessions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return helpers.HTTPError(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) forceLogout(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.Bind(&req)
	if req.Reason == "" {
		req.Reason = "terminated by administrator"
	}
	userID := c.Param("id")
	n, err := s.sessions.ForceLogout(c.Request().Context(), userID, req.Reason)
	if err != nil {
		return helpers.HTTPError(err)
	}
	s.audit(c, "sessions force-terminated", logrus.Fields{"user_id": userID, "sessions": n})
	return c.JSON(http.StatusOK, map[string]any{"terminated": n})
}

func (s *Server) destroySession(c echo.Context) error {
	if err := s.sessions.DestroyByID(c.Request().Context(), c.Param("session_id")); err != nil {
		return helpers.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// audit logs an operator action with the acting admin.
func (s *Server) audit(c echo.Context, msg string, fields logrus.Fields) {
	if s.logger == nil {
		return
	}
	if sess, ok := helpers.GetSessionRaw(c); ok && sess != nil {
		fields["admin_id"] = sess.UserID
	}
	s.logger.WithFields(fields).Info(msg)
}
