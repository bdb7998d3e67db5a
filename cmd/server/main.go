package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	config "github.com/avatarctic/marketplace-core/configs"
	"github.com/avatarctic/marketplace-core/internal/application/services"
	"github.com/avatarctic/marketplace-core/internal/core/domain/cache"
	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/codec"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/db"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/email"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/health"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/httpserver"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/memory"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/metrics"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/redis"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/repositories"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Setup logger
	logger := logrus.New()
	if cfg.Log.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(level)
	}

	logger.Info("Starting marketplace core...")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Shared store. The core runs degraded while Redis is down and reconnects in
	// the background, so a failed first connect is not fatal.
	redisClient := redis.NewRedisClient(&cfg.Redis)
	storeOpts := redis.StoreOptionsFromConfig(&cfg.Redis)
	storeOpts.Logger = logger
	store := redis.NewStore(redisClient, storeOpts)
	defer store.Close()
	if err := store.Connect(ctx); err != nil {
		logger.WithError(err).Warn("Redis unavailable at startup; running degraded")
	} else {
		logger.Info("Connected to Redis successfully")
	}
	store.OnAvailabilityChange(func(available bool) {
		logger.WithField("available", available).Warn("Redis availability changed")
	})

	// Cache
	algo, err := codec.ParseAlgorithm(cfg.Cache.CompressionAlgorithm)
	if err != nil {
		logger.WithError(err).Fatal("Invalid cache compression algorithm")
	}
	valueCodec := codec.New(codec.Options{Threshold: cfg.Cache.CompressionThreshold, Algorithm: algo})
	ttls := cache.TTLTiers{
		Short:    cfg.Cache.TTLShort,
		Medium:   cfg.Cache.TTLMedium,
		Long:     cfg.Cache.TTLLong,
		VeryLong: cfg.Cache.TTLVeryLong,
	}
	cacheService := services.NewCacheService(store, valueCodec, ttls, logger)

	// Rate limiting
	policies := make(map[ratelimit.Profile]ratelimit.Policy, len(cfg.RateLimit.Profiles))
	for name, p := range cfg.RateLimit.Profiles {
		policies[ratelimit.Profile(name)] = ratelimit.Policy{Window: p.Window, MaxRequests: p.MaxRequests, SkipSuccessful: p.SkipSuccessful}
	}
	rateLimiterConfig := &services.RateLimiterConfig{Policies: policies}
	if cfg.RateLimit.LocalFallback {
		local := memory.NewLimiterStore()
		local.StartJanitor(ctx)
		rateLimiterConfig.Local = local
	}
	rateLimitRepo := repositories.NewRateLimitRedisRepository(store, cfg.RateLimit.KeyPrefix)
	rateLimiterService := services.NewRateLimiterService(rateLimitRepo, rateLimiterConfig, logger)

	// Sessions
	notifier, err := email.NewSecurityNotifier(&email.EmailConfig{
		SendGridAPIKey: cfg.Email.SendGridAPIKey,
		FromEmail:      cfg.Email.FromEmail,
		FromName:       cfg.Email.FromName,
		CompanyName:    cfg.Email.CompanyName,
		SecurityTeam:   cfg.Email.SecurityTeam,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize security notifier:", err)
	}
	sessionRepo := repositories.NewSessionRedisRepository(store, logger)
	sessionService := services.NewSessionService(sessionRepo, notifier, services.SessionServiceConfig{
		Secret: cfg.Session.Secret,
		Issuer: cfg.Session.Issuer,
		Lifetimes: session.Lifetimes{
			Default:     cfg.Session.DefaultTTL,
			RememberMe:  cfg.Session.RememberMeTTL,
			AdminMaxAge: cfg.Session.AdminMaxAge,
			Absolute:    cfg.Session.AbsoluteLifetime,
		},
	}, logger)

	hcSlice := []ports.HealthChecker{health.NewStoreHealthChecker(store)}

	// Cache warmup reads the catalog database. Without it the datasets are simply not
	// registered and the rest of the core keeps working.
	warmer := services.NewWarmupService(cacheService, services.WarmupConfig{
		StartDelay:     cfg.Warmup.StartDelay,
		DatasetTimeout: cfg.Warmup.DatasetTimeout,
	}, logger)
	if cfg.Warmup.Enabled {
		database, err := db.NewDatabaseWithConfig(&cfg.Database)
		if err != nil {
			logger.WithError(err).Warn("Catalog database unavailable; cache warmup disabled")
		} else {
			defer database.Close()
			if err := database.Migrate(cfg.Database.MigrationsPath); err != nil {
				logger.Warn("Failed to run migrations:", err)
			}
			hcSlice = append(hcSlice, health.NewDBHealthChecker(database))

			datasets := services.CatalogDatasets(repositories.NewCatalogRepository(database), cfg.Warmup.TopN, ttls, services.CatalogWarmupIntervals{
				Popular:     cfg.Warmup.PopularInterval,
				Categories:  cfg.Warmup.CategoriesInterval,
				Featured:    cfg.Warmup.FeaturedInterval,
				Recent:      cfg.Warmup.RecentInterval,
				BestSellers: cfg.Warmup.BestSellersInterval,
			})
			for _, ds := range datasets {
				if err := warmer.Register(ds); err != nil {
					logger.WithError(err).Fatal("Failed to register warmup dataset")
				}
			}
			warmer.Start(ctx)
		}
	}

	if err := metrics.Register(prometheus.DefaultRegisterer, metrics.Sources{
		Cache:       cacheService,
		RateLimiter: rateLimiterService,
		Sessions:    sessionService,
		StoreUp:     store.IsAvailable,
	}); err != nil {
		logger.WithError(err).Fatal("Failed to register metrics")
	}

	// Create server configuration
	serverConfig := &httpserver.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		TLSCertFile:       cfg.Server.TLSCertFile,
		TLSKeyFile:        cfg.Server.TLSKeyFile,
		TrustForwardedFor: cfg.Server.TrustForwardedFor,
		SessionCookieName: cfg.Session.CookieName,
	}

	server := httpserver.NewServer(serverConfig, logger, httpserver.ServerDeps{
		Cache:          cacheService,
		RateLimiter:    rateLimiterService,
		Sessions:       sessionService,
		Warmer:         warmer,
		HealthCheckers: hcSlice,
	})

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Info("Server stopped")
		}
	}()

	logger.Infof("Server started on %s:%s", cfg.Server.Host, cfg.Server.Port)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
