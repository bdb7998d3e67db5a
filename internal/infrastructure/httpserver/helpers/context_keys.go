package helpers

import (
	"github.com/labstack/echo/v4"

	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
)

type ctxKey string

const (
	keySession      ctxKey = "session"
	keySessionToken ctxKey = "session_token"
	keyRateDecision ctxKey = "rate_decision"
)

func SetSession(c echo.Context, s *session.Session) { c.Set(string(keySession), s) }
func GetSessionRaw(c echo.Context) (*session.Session, bool) {
	v := c.Get(string(keySession))
	s, ok := v.(*session.Session)
	return s, ok
}

func SetSessionToken(c echo.Context, token string) { c.Set(string(keySessionToken), token) }
func GetSessionTokenRaw(c echo.Context) (string, bool) {
	v := c.Get(string(keySessionToken))
	s, ok := v.(string)
	return s, ok
}

func SetRateDecision(c echo.Context, d ratelimit.Decision) { c.Set(string(keyRateDecision), d) }
func GetRateDecisionRaw(c echo.Context) (ratelimit.Decision, bool) {
	v := c.Get(string(keyRateDecision))
	d, ok := v.(ratelimit.Decision)
	return d, ok
}
