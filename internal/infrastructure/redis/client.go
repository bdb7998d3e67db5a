package redis

import (
	config "github.com/avatarctic/marketplace-core/configs"
	"github.com/go-redis/redis/v8"
)

// NewRedisClient creates a new Redis client. It does not dial; Store.Connect probes the
// connection so that the process can boot while the store is down.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		MaxRetries:   cfg.MaxRetries,
	})
}

// StoreOptionsFromConfig maps the Redis section of the config onto adapter options.
func StoreOptionsFromConfig(cfg *config.RedisConfig) StoreOptions {
	return StoreOptions{
		KeyPrefix:           cfg.KeyPrefix,
		CommandTimeout:      cfg.CommandTimeout,
		ReconnectMaxBackoff: cfg.ReconnectMaxBackoff,
		BreakerFailures:     cfg.BreakerFailures,
		BreakerOpenTimeout:  cfg.BreakerOpenTimeout,
	}
}
