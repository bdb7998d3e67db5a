package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/repositories"
	"github.com/avatarctic/marketplace-core/test/testutil"
)

func TestRateLimitRepository_KeyLayoutAndRefund(t *testing.T) {
	mr, store := testutil.NewStore(t)
	repo := repositories.NewRateLimitRedisRepository(store, "")
	ctx := context.Background()

	count, key, err := repo.IncrementWindow(ctx, ratelimit.ProfileAuth, "10.0.0.1", 42, 15*time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, "rate_limit:auth:10.0.0.1:42", key)
	require.Equal(t, 15*time.Minute, mr.TTL(key))

	n, err := repo.Decrement(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestRateLimitRepository_EscapesIdentifier(t *testing.T) {
	_, store := testutil.NewStore(t)
	repo := repositories.NewRateLimitRedisRepository(store, "rl")
	require.Equal(t, "rl:api:user%3A%2A:7", repo.CounterKey(ratelimit.ProfileAPI, "user:*", 7))
}

func TestSessionRepository_SaveGetListDelete(t *testing.T) {
	mr, store := testutil.NewStore(t)
	repo := repositories.NewSessionRedisRepository(store, nil)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for _, sid := range []string{"s1", "s2"} {
		require.NoError(t, repo.Save(ctx, &session.Record{SessionID: sid, UserID: "u:1", Role: session.RoleUser, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}, time.Hour))
	}
	require.NoError(t, repo.Save(ctx, &session.Record{SessionID: "s3", UserID: "u:10", CreatedAt: now}, time.Hour))
	require.True(t, mr.Exists("session:active:u%3A1:s1"))
	require.Equal(t, time.Hour, mr.TTL("session:active:u%3A1:s1"))

	rec, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "u:1", rec.UserID)

	ids, err := repo.ListUserSessionIDs(ctx, "u:1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"s1", "s2"}, ids)

	require.NoError(t, repo.Delete(ctx, "u:1", "s1"))
	require.NoError(t, repo.Delete(ctx, "u:1", "s1"))
	_, err = repo.Get(ctx, "s1")
	require.ErrorIs(t, err, session.ErrNoSession)

	ids, err = repo.ListUserSessionIDs(ctx, "u:1")
	require.NoError(t, err)
	require.Equal(t, []string{"s2"}, ids)
}

func TestSessionRepository_UnreadableRecordIsEvicted(t *testing.T) {
	mr, store := testutil.NewStore(t)
	repo := repositories.NewSessionRedisRepository(store, nil)
	require.NoError(t, mr.Set("session:data:bad", "{"))

	_, err := repo.Get(context.Background(), "bad")
	require.ErrorIs(t, err, session.ErrNoSession)
	require.False(t, mr.Exists("session:data:bad"))
}

func TestSessionRepository_WrongTypeKeyIsEvicted(t *testing.T) {
	mr, store := testutil.NewStore(t)
	repo := repositories.NewSessionRedisRepository(store, nil)
	_, err := mr.Lpush("session:data:listy", "x")
	require.NoError(t, err)

	_, err = repo.Get(context.Background(), "listy")
	require.ErrorIs(t, err, session.ErrNoSession)
	require.False(t, mr.Exists("session:data:listy"))
	require.True(t, store.IsAvailable())
}

func TestSessionRepository_RefreshDoesNotRecreateDeletedSession(t *testing.T) {
	mr, store := testutil.NewStore(t)
	repo := repositories.NewSessionRedisRepository(store, nil)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	rec := &session.Record{SessionID: "s1", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, repo.Save(ctx, rec, time.Hour))

	ok, err := repo.Refresh(ctx, rec, 2*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2*time.Hour, mr.TTL("session:data:s1"))
	require.Equal(t, 2*time.Hour, mr.TTL("session:active:u1:s1"))

	require.NoError(t, repo.Delete(ctx, "u1", "s1"))
	ok, err = repo.Refresh(ctx, rec, 2*time.Hour)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, mr.Keys())
}

func TestSessionRepository_RefreshDropsHalfDeletedSession(t *testing.T) {
	mr, store := testutil.NewStore(t)
	repo := repositories.NewSessionRedisRepository(store, nil)
	ctx := context.Background()
	rec := &session.Record{SessionID: "s1", UserID: "u1", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Save(ctx, rec, time.Hour))
	mr.Del("session:active:u1:s1")

	ok, err := repo.Refresh(ctx, rec, time.Hour)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, mr.Keys())
}
