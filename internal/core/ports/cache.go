package ports

import (
	"context"
	"time"

	"github.com/avatarctic/marketplace-core/internal/core/domain/cache"
)

// Codec turns values into stored payloads and back.
type Codec interface {
	Encode(v any) (cache.Entry, error)
	Decode(payload []byte, dest any) error
}

// Cache is the advisory cache consumed by business code. Lookups report a status
// instead of failing; writes return an error wrapping ErrUnavailable during an outage
// which callers are free to ignore.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (cache.Status, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
	// MultiGet returns only the hits, each decoded into a fresh value from newDest.
	MultiGet(ctx context.Context, keys []string, newDest func() any) (map[string]any, error)
	MultiSet(ctx context.Context, values map[string]any, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	InvalidateProduct(ctx context.Context, productID, shopID string) (int64, error)
	TTLs() cache.TTLTiers

	Stats() cache.Stats
	ResetStats()
}
