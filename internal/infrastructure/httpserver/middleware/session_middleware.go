package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/httpserver/helpers"
)

type SessionMiddleware struct {
	sessions   ports.SessionManager
	cookieName string
	logger     *logrus.Logger
}

func NewSessionMiddleware(sessions ports.SessionManager, cookieName string, logger *logrus.Logger) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions, cookieName: cookieName, logger: logger}
}

// RequireSession validates the bearer token or session cookie against the client
// and stores the session in the context.
func (m *SessionMiddleware) RequireSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := helpers.GetSessionToken(c, m.cookieName)
			if err != nil {
				return err
			}

			s, err := m.sessions.Validate(c.Request().Context(), token, helpers.RequestContext(c))
			if err != nil {
				if m.logger != nil {
					m.logger.WithFields(logrus.Fields{"ip": c.RealIP(), "path": c.Request().URL.Path, "reason": session.RejectReason(err)}).Warn("session validation failed")
				}
				return helpers.HTTPError(err)
			}

			helpers.SetSession(c, s)
			helpers.SetSessionToken(c, token)
			if s.Degraded {
				c.Response().Header().Set("X-Session-Degraded", "true")
			}
			if m.logger != nil {
				m.logger.WithFields(logrus.Fields{"user_id": s.UserID, "session_id": s.SessionID, "role": s.Role}).Debug("session validated")
			}
			return next(c)
		}
	}
}

// RequireRole rejects sessions whose owner lacks role. It must run after RequireSession.
func (m *SessionMiddleware) RequireRole(role session.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s, err := helpers.GetSessionFromContext(c)
			if err != nil {
				return err
			}
			if s.Role != role {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			return next(c)
		}
	}
}
