package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/avatarctic/marketplace-core/internal/infrastructure/httpserver/helpers"
)

func (s *Server) currentSession(c echo.Context) error {
	sess, err := helpers.GetSessionFromContext(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) logout(c echo.Context) error {
	token, ok := helpers.GetSessionTokenRaw(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing session token")
	}
	if err := s.sessions.Destroy(c.Request().Context(), token); err != nil {
		return helpers.HTTPError(err)
	}
	if s.config.SessionCookieName != "" {
		c.SetCookie(&http.Cookie{Name: s.config.SessionCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	}
	return c.NoContent(http.StatusNoContent)
}
