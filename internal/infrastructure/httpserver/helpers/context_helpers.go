package helpers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
)

// GetSessionFromContext returns the session set by the session middleware.
func GetSessionFromContext(c echo.Context) (*session.Session, error) {
	s, ok := GetSessionRaw(c)
	if !ok || s == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid session context")
	}
	return s, nil
}

// GetSessionToken reads a bearer token, falling back to the session cookie.
func GetSessionToken(c echo.Context, cookieName string) (string, error) {
	if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			return "", echo.NewHTTPError(http.StatusUnauthorized, "empty token")
		}
		return token, nil
	}
	if cookieName != "" {
		if ck, err := c.Cookie(cookieName); err == nil && ck.Value != "" {
			return ck.Value, nil
		}
	}
	return "", echo.NewHTTPError(http.StatusUnauthorized, "missing session token")
}

// RequestContext extracts the client attributes a session is bound to.
func RequestContext(c echo.Context) session.RequestContext {
	h := c.Request().Header
	return session.RequestContext{
		IP:             c.RealIP(),
		UserAgent:      h.Get("User-Agent"),
		AcceptLanguage: h.Get("Accept-Language"),
		AcceptEncoding: h.Get("Accept-Encoding"),
	}
}

// ClientIdentifier keys rate limiting: the session owner when known, otherwise the
// client address as resolved by the server's IP extractor.
func ClientIdentifier(c echo.Context) string {
	if s, ok := GetSessionRaw(c); ok && s != nil {
		return "user:" + s.UserID
	}
	return "ip:" + c.RealIP()
}

// HTTPError maps core errors onto responses. Reauthentication is always 401 and an
// unreachable store is 503.
func HTTPError(err error) error {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case session.IsReauthenticate(err):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ports.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	case errors.Is(err, ports.ErrInvalidKey), errors.Is(err, session.ErrMissingUser):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
