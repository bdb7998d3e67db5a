package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// applyTimeouts copies the configured timeouts onto srv. Header reads share the read
// timeout.
func (s *Server) applyTimeouts(srv *http.Server) {
	srv.ReadTimeout = s.config.ReadTimeout
	srv.ReadHeaderTimeout = s.config.ReadTimeout
	srv.WriteTimeout = s.config.WriteTimeout
	srv.IdleTimeout = s.config.IdleTimeout
}

func (s *Server) Start() error {
	s.LogMetricsInitialization()

	addr := net.JoinHostPort(s.config.Host, s.config.Port)
	entry := s.logger.WithFields(logrus.Fields{
		"addr":                addr,
		"trust_forwarded_for": s.config.TrustForwardedFor,
		"session_cookie":      s.config.SessionCookieName,
	})

	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		s.applyTimeouts(s.echo.TLSServer)
		entry.Info("Starting HTTPS server")
		return s.echo.StartTLS(addr, s.config.TLSCertFile, s.config.TLSKeyFile)
	}

	server := &http.Server{Addr: addr}
	s.applyTimeouts(server)
	entry.Info("Starting HTTP server")
	entry.Warn("Running in HTTP mode - TLS certificates not configured")
	return s.echo.StartServer(server)
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	start := time.Now()
	err := s.echo.Shutdown(ctx)
	if s.logger != nil {
		s.logger.WithField("took", time.Since(start).String()).Info("HTTP server drained")
	}
	return err
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}
