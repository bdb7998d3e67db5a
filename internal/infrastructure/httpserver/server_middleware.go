package httpserver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// maxBodySize bounds request bodies. The admin API only accepts small JSON documents.
const maxBodySize = "64K"

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisableStackAll: true,
		LogErrorFunc:    s.logPanic,
	}))
	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echo.Use(middleware.BodyLimit(maxBodySize))

	s.echo.Use(s.middleware.Metrics.CollectHTTPMetrics())
	s.echo.Use(s.middleware.Logging.RequestLogging())
}

// logPanic reports a recovered panic under the request's id. The returned error is
// what the client sees.
func (s *Server) logPanic(c echo.Context, err error, stack []byte) error {
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			"method":     c.Request().Method,
			"path":       c.Path(),
			"stack":      string(stack),
		}).WithError(err).Error("handler panicked")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
