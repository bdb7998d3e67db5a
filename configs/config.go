package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Session   SessionConfig
	Warmup    WarmupConfig
	Email     EmailConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCertFile  string
	TLSKeyFile   string
	// TrustForwardedFor makes the rate limiter key on the first X-Forwarded-For hop.
	TrustForwardedFor bool
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	DSN      string
	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MigrationsPath  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	// Pool and timeout settings
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	IdleTimeout  time.Duration
	MaxRetries   int

	// Adapter policy
	KeyPrefix           string
	CommandTimeout      time.Duration
	ReconnectMaxBackoff time.Duration
	BreakerFailures     uint32        // consecutive failures before the store is marked unavailable
	BreakerOpenTimeout  time.Duration // how long to fast-fail before probing again
}

type CacheConfig struct {
	CompressionThreshold int
	CompressionAlgorithm string // gzip, zstd, s2 or none
	TTLShort             time.Duration
	TTLMedium            time.Duration
	TTLLong              time.Duration
	TTLVeryLong          time.Duration
}

type RateLimitProfileConfig struct {
	Window         time.Duration
	MaxRequests    int
	SkipSuccessful bool
}

type RateLimitConfig struct {
	KeyPrefix     string
	LocalFallback bool
	Profiles      map[string]RateLimitProfileConfig
}

type SessionConfig struct {
	Secret           string
	Issuer           string
	CookieName       string
	DefaultTTL       time.Duration // idle lifetime of a regular session
	RememberMeTTL    time.Duration // idle lifetime when the user asked to be remembered
	AdminMaxAge      time.Duration // ceiling for admin sessions regardless of remember-me
	AbsoluteLifetime time.Duration // hard cap since creation for non-admin sessions
}

type WarmupConfig struct {
	Enabled             bool
	StartDelay          time.Duration
	DatasetTimeout      time.Duration
	TopN                int
	PopularInterval     time.Duration
	CategoriesInterval  time.Duration
	FeaturedInterval    time.Duration
	RecentInterval      time.Duration
	BestSellersInterval time.Duration
}

type EmailConfig struct {
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	CompanyName    string
	SecurityTeam   string
}

type LogConfig struct {
	Level  string
	Format string // json or text
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			Port:              getEnv("SERVER_PORT", "8080"),
			ReadTimeout:       getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			TLSCertFile:       getEnv("TLS_CERT_FILE", ""),
			TLSKeyFile:        getEnv("TLS_KEY_FILE", ""),
			TrustForwardedFor: getBoolEnv("TRUST_X_FORWARDED_FOR", false),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "marketplace"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			MigrationsPath:  getEnv("DB_MIGRATIONS_PATH", "./migrations"),
		},
		Redis: RedisConfig{
			Host:                getEnv("REDIS_HOST", "localhost"),
			Port:                getEnv("REDIS_PORT", "6379"),
			Password:            getEnv("REDIS_PASSWORD", ""),
			DB:                  getIntEnv("REDIS_DB", 0),
			PoolSize:            getIntEnv("REDIS_POOL_SIZE", 20),
			MinIdleConns:        getIntEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:         getDurationEnv("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:         getDurationEnv("REDIS_READ_TIMEOUT", time.Second),
			WriteTimeout:        getDurationEnv("REDIS_WRITE_TIMEOUT", time.Second),
			PoolTimeout:         getDurationEnv("REDIS_POOL_TIMEOUT", 2*time.Second),
			IdleTimeout:         getDurationEnv("REDIS_IDLE_TIMEOUT", 5*time.Minute),
			MaxRetries:          getIntEnv("REDIS_MAX_RETRIES", 1),
			KeyPrefix:           getEnv("REDIS_KEY_PREFIX", ""),
			CommandTimeout:      getDurationEnv("REDIS_COMMAND_TIMEOUT", 2*time.Second),
			ReconnectMaxBackoff: getDurationEnv("REDIS_RECONNECT_MAX_BACKOFF", 5*time.Second),
			BreakerFailures:     uint32(getIntEnv("REDIS_BREAKER_FAILURES", 5)),
			BreakerOpenTimeout:  getDurationEnv("REDIS_BREAKER_OPEN_TIMEOUT", 5*time.Second),
		},
		Cache: CacheConfig{
			CompressionThreshold: getIntEnv("CACHE_COMPRESSION_THRESHOLD", 1024),
			CompressionAlgorithm: getEnv("CACHE_COMPRESSION_ALGORITHM", "gzip"),
			TTLShort:             getDurationEnv("CACHE_TTL_SHORT", time.Minute),
			TTLMedium:            getDurationEnv("CACHE_TTL_MEDIUM", 10*time.Minute),
			TTLLong:              getDurationEnv("CACHE_TTL_LONG", time.Hour),
			TTLVeryLong:          getDurationEnv("CACHE_TTL_VERY_LONG", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			KeyPrefix:     getEnv("RATE_LIMIT_KEY_PREFIX", "rate_limit"),
			LocalFallback: getBoolEnv("RATE_LIMIT_LOCAL_FALLBACK", false),
			Profiles: map[string]RateLimitProfileConfig{
				"api":            loadProfile("API", 15*time.Minute, 100, false),
				"auth":           loadProfile("AUTH", 15*time.Minute, 20, true),
				"upload":         loadProfile("UPLOAD", time.Hour, 50, false),
				"search":         loadProfile("SEARCH", time.Minute, 60, false),
				"password_reset": loadProfile("PASSWORD_RESET", time.Hour, 5, false),
			},
		},
		Session: SessionConfig{
			Secret:           getEnv("SESSION_SECRET", ""),
			Issuer:           getEnv("SESSION_ISSUER", "marketplace"),
			CookieName:       getEnv("SESSION_COOKIE_NAME", "sid"),
			DefaultTTL:       getDurationEnv("SESSION_DEFAULT_TTL", 24*time.Hour),
			RememberMeTTL:    getDurationEnv("SESSION_REMEMBER_ME_TTL", 30*24*time.Hour),
			AdminMaxAge:      getDurationEnv("SESSION_ADMIN_MAX_AGE", 4*time.Hour),
			AbsoluteLifetime: getDurationEnv("SESSION_ABSOLUTE_LIFETIME", 30*24*time.Hour),
		},
		Warmup: WarmupConfig{
			Enabled:             getBoolEnv("WARMUP_ENABLED", true),
			StartDelay:          getDurationEnv("WARMUP_START_DELAY", 10*time.Second),
			DatasetTimeout:      getDurationEnv("WARMUP_DATASET_TIMEOUT", 30*time.Second),
			TopN:                getIntEnv("WARMUP_TOP_N", 20),
			PopularInterval:     getDurationEnv("WARMUP_POPULAR_INTERVAL", time.Hour),
			CategoriesInterval:  getDurationEnv("WARMUP_CATEGORIES_INTERVAL", 6*time.Hour),
			FeaturedInterval:    getDurationEnv("WARMUP_FEATURED_INTERVAL", 30*time.Minute),
			RecentInterval:      getDurationEnv("WARMUP_RECENT_INTERVAL", 30*time.Minute),
			BestSellersInterval: getDurationEnv("WARMUP_BESTSELLERS_INTERVAL", time.Hour),
		},
		Email: EmailConfig{
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			FromEmail:      getEnv("FROM_EMAIL", "security@example.com"),
			FromName:       getEnv("FROM_NAME", "Marketplace Security"),
			CompanyName:    getEnv("COMPANY_NAME", "Marketplace"),
			SecurityTeam:   getEnv("SECURITY_TEAM_EMAIL", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Build database DSN
	cfg.Database.DSN = fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.SSLMode,
	)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that would make the core misbehave at runtime.
func (c *Config) Validate() error {
	if c.Session.Secret == "" {
		return fmt.Errorf("required environment variable SESSION_SECRET is not set")
	}
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	if c.Redis.CommandTimeout <= 0 {
		return fmt.Errorf("REDIS_COMMAND_TIMEOUT must be positive")
	}
	for name, p := range c.RateLimit.Profiles {
		if p.Window <= 0 || p.MaxRequests <= 0 {
			return fmt.Errorf("rate limit profile %q needs a positive window and max", name)
		}
	}
	lifetimes := map[string]time.Duration{
		"SESSION_DEFAULT_TTL":       c.Session.DefaultTTL,
		"SESSION_REMEMBER_ME_TTL":   c.Session.RememberMeTTL,
		"SESSION_ADMIN_MAX_AGE":     c.Session.AdminMaxAge,
		"SESSION_ABSOLUTE_LIFETIME": c.Session.AbsoluteLifetime,
	}
	for name, d := range lifetimes {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// RedisAddr joins host and port.
func (r RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func loadProfile(name string, window time.Duration, max int, skipSuccessful bool) RateLimitProfileConfig {
	return RateLimitProfileConfig{
		Window:         getDurationEnv("RATE_LIMIT_"+name+"_WINDOW", window),
		MaxRequests:    getIntEnv("RATE_LIMIT_"+name+"_MAX", max),
		SkipSuccessful: getBoolEnv("RATE_LIMIT_"+name+"_SKIP_SUCCESSFUL", skipSuccessful),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
