package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/httpserver/helpers"
)

type RateLimitMiddleware struct {
	rateLimiter ports.RateLimiter
	logger      *logrus.Logger
	now         func() time.Time
}

func NewRateLimitMiddleware(rateLimiter ports.RateLimiter, logger *logrus.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{rateLimiter: rateLimiter, logger: logger, now: time.Now}
}

// Limit admits requests under profile. Profiles that skip successful requests give
// the slot back once the handler has answered below 400.
func (r *RateLimitMiddleware) Limit(profile ratelimit.Profile) echo.MiddlewareFunc {
	policy, _ := r.rateLimiter.Policy(profile)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identifier := helpers.ClientIdentifier(c)
			d, err := r.rateLimiter.Admit(c.Request().Context(), identifier, profile)
			if err != nil {
				if r.logger != nil {
					r.logger.WithError(err).WithFields(logrus.Fields{"profile": profile, "identifier": identifier}).Error("rate limiter misconfigured; allowing request")
				}
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			helpers.SetRateDecision(c, d)

			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(int(d.RetryAfter(r.now()).Seconds())))
				if r.logger != nil {
					r.logger.WithFields(logrus.Fields{"profile": profile, "identifier": identifier, "count": d.Count}).Info("rate limit exceeded")
				}
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			err = next(c)
			if policy.SkipSuccessful && err == nil && c.Response().Status < http.StatusBadRequest {
				if rerr := r.rateLimiter.Refund(c.Request().Context(), d); rerr != nil && r.logger != nil {
					r.logger.WithError(rerr).WithField("profile", profile).Warn("failed to refund rate limit")
				}
			}
			return err
		}
	}
}
