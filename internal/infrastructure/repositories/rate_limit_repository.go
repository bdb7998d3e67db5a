package repositories

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
)

const defaultRateLimitPrefix = "rate_limit"

// RateLimitRedisRepository keeps fixed-window counters in the shared store.
type RateLimitRedisRepository struct {
	store  ports.KVStore
	prefix string
}

func NewRateLimitRedisRepository(store ports.KVStore, prefix string) *RateLimitRedisRepository {
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RateLimitRedisRepository{store: store, prefix: prefix}
}

// CounterKey is rate_limit:{profile}:{identifier}:{windowID}.
func (repo *RateLimitRedisRepository) CounterKey(profile ratelimit.Profile, identifier string, windowID int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", repo.prefix, profile, url.QueryEscape(identifier), windowID)
}

// IncrementWindow increments the counter and arms its expiry on the first request of the
// window in a single atomic script.
func (repo *RateLimitRedisRepository) IncrementWindow(ctx context.Context, profile ratelimit.Profile, identifier string, windowID int64, window time.Duration) (int64, string, error) {
	key := repo.CounterKey(profile, identifier, windowID)
	count, err := repo.store.IncrementWindow(ctx, key, window)
	if err != nil {
		return 0, key, fmt.Errorf("increment %s: %w", key, err)
	}
	return count, key, nil
}

func (repo *RateLimitRedisRepository) Decrement(ctx context.Context, key string) (int64, error) {
	n, err := repo.store.DecrementFloor(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("decrement %s: %w", key, err)
	}
	return n, nil
}
