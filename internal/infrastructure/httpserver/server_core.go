package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/marketplace-core/internal/core/ports"
	customMiddleware "github.com/avatarctic/marketplace-core/internal/infrastructure/httpserver/middleware"
)

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCertFile  string
	TLSKeyFile   string
	// TrustForwardedFor takes the client address from X-Forwarded-For. Enable only
	// behind a proxy that sets the header.
	TrustForwardedFor bool
	SessionCookieName string
}

type ServerDeps struct {
	Cache          ports.Cache
	RateLimiter    ports.RateLimiter
	Sessions       ports.SessionManager
	Warmer         ports.CacheWarmer
	HealthCheckers []ports.HealthChecker
}

type Server struct {
	echo           *echo.Echo
	config         *ServerConfig
	logger         *logrus.Logger
	cache          ports.Cache
	rateLimiter    ports.RateLimiter
	sessions       ports.SessionManager
	warmer         ports.CacheWarmer
	middleware     *customMiddleware.MiddlewareCollection
	healthCheckers []ports.HealthChecker
}

func NewServer(serverConfig *ServerConfig, logger *logrus.Logger, deps ServerDeps) *Server {
	e := echo.New()
	e.HideBanner = true
	if serverConfig.TrustForwardedFor {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	server := &Server{
		echo:           e,
		config:         serverConfig,
		logger:         logger,
		cache:          deps.Cache,
		rateLimiter:    deps.RateLimiter,
		sessions:       deps.Sessions,
		warmer:         deps.Warmer,
		healthCheckers: deps.HealthCheckers,
		middleware: customMiddleware.NewMiddlewareCollection(
			deps.Sessions,
			deps.RateLimiter,
			serverConfig.SessionCookieName,
			logger,
			GetRequestsTotal(),
			GetRequestDuration(),
		),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}
