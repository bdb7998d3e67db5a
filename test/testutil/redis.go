package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	redisstore "github.com/avatarctic/marketplace-core/internal/infrastructure/redis"
)

// NewStore starts an in-process Redis and returns a connected Store over it. The
// client never retries so that closing the server is observed on the next command.
func NewStore(t *testing.T, opts ...func(*redisstore.StoreOptions)) (*miniredis.Miniredis, *redisstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{
		Addr:        mr.Addr(),
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
		ReadTimeout: 200 * time.Millisecond,
	})
	o := redisstore.StoreOptions{
		CommandTimeout:      500 * time.Millisecond,
		ReconnectMaxBackoff: 50 * time.Millisecond,
		BreakerFailures:     1,
		BreakerOpenTimeout:  50 * time.Millisecond,
	}
	for _, fn := range opts {
		fn(&o)
	}
	store := redisstore.NewStore(client, o)
	require.NoError(t, store.Connect(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}
