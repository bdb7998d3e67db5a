package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	impl "github.com/avatarctic/marketplace-core/internal/application/services"
	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/repositories"
	tmocks "github.com/avatarctic/marketplace-core/test/mocks"
	"github.com/avatarctic/marketplace-core/test/testutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var laptop = session.RequestContext{
	IP:             "203.0.113.10",
	UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.0",
	AcceptLanguage: "en-US,en;q=0.9",
	AcceptEncoding: "gzip, deflate, br",
}

func testLifetimes() session.Lifetimes {
	return session.Lifetimes{
		Default:     24 * time.Hour,
		RememberMe:  30 * 24 * time.Hour,
		AdminMaxAge: 4 * time.Hour,
		Absolute:    30 * 24 * time.Hour,
	}
}

func sessionConfig(clock *fakeClock) impl.SessionServiceConfig {
	return impl.SessionServiceConfig{Secret: testSecret, Issuer: "marketplace", Lifetimes: testLifetimes(), Clock: clock.Now}
}

type sessionFixture struct {
	mr       *miniredis.Miniredis
	svc      *impl.SessionService
	clock    *fakeClock
	notifier *tmocks.NotifierMock
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	mr, store := testutil.NewStore(t)
	clock := &fakeClock{now: time.Unix(1_800_000_000, 0)}
	notifier := &tmocks.NotifierMock{}
	svc := impl.NewSessionService(repositories.NewSessionRedisRepository(store, nil), notifier, sessionConfig(clock), nil)
	return &sessionFixture{mr: mr, svc: svc, clock: clock, notifier: notifier}
}

func (f *sessionFixture) create(t *testing.T, userID string, role session.Role, opts session.Options) *session.Issued {
	t.Helper()
	issued, err := f.svc.Create(context.Background(), session.CreateRequest{
		UserID:  userID,
		Email:   userID + "@example.com",
		Role:    role,
		Request: laptop,
		Options: opts,
	})
	require.NoError(t, err)
	return issued
}

// Test: validation slides the idle expiry forward and refreshes the stored TTL
func TestSession_ValidateSlidesExpiry(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	issued := f.create(t, "u1", session.RoleUser, session.Options{})
	require.NotEmpty(t, issued.Token)
	require.WithinDuration(t, f.clock.Now().Add(24*time.Hour), issued.ExpiresAt, time.Second)
	require.Equal(t, 24*time.Hour, f.mr.TTL("session:data:"+issued.Session.SessionID))
	require.True(t, f.mr.Exists("session:active:u1:"+issued.Session.SessionID))

	f.clock.Advance(5 * time.Hour)
	s, err := f.svc.Validate(ctx, issued.Token, laptop)
	require.NoError(t, err)
	require.False(t, s.Degraded)
	require.Equal(t, "u1", s.UserID)
	require.WithinDuration(t, f.clock.Now().Add(24*time.Hour), s.ExpiresAt, time.Second)
	require.WithinDuration(t, f.clock.Now(), s.LastActivity, time.Second)

	stats := f.svc.Stats()
	require.EqualValues(t, 1, stats.Created)
	require.EqualValues(t, 1, stats.Validated)
}

func TestSession_IdleExpiryRejects(t *testing.T) {
	f := newSessionFixture(t)
	issued := f.create(t, "u1", session.RoleUser, session.Options{})

	f.clock.Advance(25 * time.Hour)
	_, err := f.svc.Validate(context.Background(), issued.Token, laptop)
	require.ErrorIs(t, err, session.ErrSessionExpired)
	require.True(t, session.IsReauthenticate(err))
	require.False(t, f.mr.Exists("session:data:"+issued.Session.SessionID))
	require.EqualValues(t, 1, f.svc.Stats().Rejected["expired"])
}

func TestSession_AdminLifetimeIgnoresRememberMe(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	issued := f.create(t, "root", session.RoleAdmin, session.Options{RememberMe: true})
	require.WithinDuration(t, f.clock.Now().Add(4*time.Hour), issued.ExpiresAt, time.Second)

	f.clock.Advance(3 * time.Hour)
	s, err := f.svc.Validate(ctx, issued.Token, laptop)
	require.NoError(t, err)
	// sliding never passes the ceiling measured from creation
	require.WithinDuration(t, issued.ExpiresAt, s.ExpiresAt, time.Second)

	f.clock.Advance(90 * time.Minute)
	_, err = f.svc.Validate(ctx, issued.Token, laptop)
	require.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestSession_RememberMeOutlivesDefault(t *testing.T) {
	f := newSessionFixture(t)
	issued := f.create(t, "u1", session.RoleUser, session.Options{RememberMe: true})

	f.clock.Advance(10 * 24 * time.Hour)
	_, err := f.svc.Validate(context.Background(), issued.Token, laptop)
	require.NoError(t, err)
}

// Test: a stolen token replayed from another device is rejected but the owner keeps the session
func TestSession_FingerprintMismatchRejectsAndAlerts(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	issued := f.create(t, "u1", session.RoleUser, session.Options{})

	thief := laptop
	thief.UserAgent = "curl/8.4.0"
	_, err := f.svc.Validate(ctx, issued.Token, thief)
	require.ErrorIs(t, err, session.ErrFingerprintMismatch)

	require.Eventually(t, func() bool { return len(f.notifier.Recorded()) == 1 }, time.Second, 10*time.Millisecond)
	ev := f.notifier.Recorded()[0]
	require.Equal(t, ports.EventFingerprintMismatch, ev.Kind)
	require.Equal(t, "u1@example.com", ev.Email)
	require.Equal(t, issued.Session.SessionID, ev.SessionID)

	_, err = f.svc.Validate(ctx, issued.Token, laptop)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.svc.Stats().Rejected["fingerprint"])
}

func TestSession_AddressChurnWithinNetworkIsTolerated(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	issued := f.create(t, "u1", session.RoleUser, session.Options{})

	moved := laptop
	moved.IP = "203.0.200.77"
	_, err := f.svc.Validate(ctx, issued.Token, moved)
	require.NoError(t, err)

	moved.IP = "198.51.100.4"
	_, err = f.svc.Validate(ctx, issued.Token, moved)
	require.ErrorIs(t, err, session.ErrFingerprintMismatch)
}

func TestSession_IPRestrictionRequiresExactAddress(t *testing.T) {
	f := newSessionFixture(t)
	issued := f.create(t, "u1", session.RoleSeller, session.Options{IPRestriction: true})

	moved := laptop
	moved.IP = "203.0.113.11"
	_, err := f.svc.Validate(context.Background(), issued.Token, moved)
	require.ErrorIs(t, err, session.ErrIPChanged)
	require.Eventually(t, func() bool { return len(f.notifier.Recorded()) == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, ports.EventIPChanged, f.notifier.Recorded()[0].Kind)
}

func TestSession_InvalidTokens(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	issued := f.create(t, "u1", session.RoleUser, session.Options{})

	for _, tok := range []string{"", "garbage", issued.Token + "x"} {
		_, err := f.svc.Validate(ctx, tok, laptop)
		require.ErrorIs(t, err, session.ErrInvalidToken, tok)
	}

	other := impl.NewSessionService(repositories.NewSessionRedisRepository(tmocks.UnavailableStore{}, nil), nil, impl.SessionServiceConfig{
		Secret: "another-secret-another-secret-xx", Issuer: "marketplace", Lifetimes: testLifetimes(), Clock: f.clock.Now,
	}, nil)
	_, err := other.Validate(ctx, issued.Token, laptop)
	require.ErrorIs(t, err, session.ErrInvalidToken)
}

// Test: logging in with a pre-existing token destroys the old session
func TestSession_CreateDestroysPreviousSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	old := f.create(t, "u1", session.RoleUser, session.Options{})

	fresh, err := f.svc.Create(ctx, session.CreateRequest{UserID: "u1", Request: laptop, PreviousToken: old.Token})
	require.NoError(t, err)
	require.NotEqual(t, old.Session.SessionID, fresh.Session.SessionID)

	_, err = f.svc.Validate(ctx, old.Token, laptop)
	require.ErrorIs(t, err, session.ErrNoSession)
	_, err = f.svc.Validate(ctx, fresh.Token, laptop)
	require.NoError(t, err)
}

func TestSession_DestroyIsIdempotent(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	issued := f.create(t, "u1", session.RoleUser, session.Options{})

	require.NoError(t, f.svc.Destroy(ctx, issued.Token))
	require.NoError(t, f.svc.Destroy(ctx, issued.Token))
	require.NoError(t, f.svc.DestroyByID(ctx, issued.Session.SessionID))
	require.Empty(t, f.mr.Keys())
	require.ErrorIs(t, f.svc.Destroy(ctx, "garbage"), session.ErrInvalidToken)

	_, err := f.svc.Validate(ctx, issued.Token, laptop)
	require.ErrorIs(t, err, session.ErrNoSession)
}

func TestSession_ForceLogoutRevokesEverySession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	var tokens []string
	for i := 0; i < 3; i++ {
		tokens = append(tokens, f.create(t, "u1", session.RoleUser, session.Options{}).Token)
		f.clock.Advance(time.Second)
	}
	bystander := f.create(t, "u2", session.RoleUser, session.Options{})

	listed, err := f.svc.ListUserSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	require.True(t, listed[0].CreatedAt.Before(listed[2].CreatedAt))

	n, err := f.svc.ForceLogout(ctx, "u1", "password changed")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for _, tok := range tokens {
		_, err := f.svc.Validate(ctx, tok, laptop)
		require.ErrorIs(t, err, session.ErrNoSession)
	}
	_, err = f.svc.Validate(ctx, bystander.Token, laptop)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.notifier.Recorded()) == 1 }, time.Second, 10*time.Millisecond)
	ev := f.notifier.Recorded()[0]
	require.Equal(t, ports.EventForcedLogout, ev.Kind)
	require.Equal(t, 3, ev.Count)
	require.Equal(t, "password changed", ev.Reason)
	require.EqualValues(t, 3, f.svc.Stats().Forced)
}

// Test: with the store down a signed token is still honoured and flagged degraded
func TestSession_DegradedValidationTrustsSignedClaims(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	issued := f.create(t, "u1", session.RoleUser, session.Options{})

	down := impl.NewSessionService(repositories.NewSessionRedisRepository(tmocks.UnavailableStore{}, nil), nil, sessionConfig(f.clock), nil)
	s, err := down.Validate(ctx, issued.Token, laptop)
	require.NoError(t, err)
	require.True(t, s.Degraded)
	require.Equal(t, issued.Session.SessionID, s.SessionID)
	require.EqualValues(t, 1, down.Stats().Degraded)

	thief := laptop
	thief.AcceptLanguage = "ru-RU"
	_, err = down.Validate(ctx, issued.Token, thief)
	require.ErrorIs(t, err, session.ErrFingerprintMismatch)

	_, err = down.ForceLogout(ctx, "u1", "incident")
	require.ErrorIs(t, err, ports.ErrUnavailable)

	_, err = down.Create(ctx, session.CreateRequest{UserID: "u1", Request: laptop})
	require.ErrorIs(t, err, ports.ErrUnavailable)
}

func TestSession_CreateContractErrors(t *testing.T) {
	f := newSessionFixture(t)
	_, err := f.svc.Create(context.Background(), session.CreateRequest{Request: laptop})
	require.ErrorIs(t, err, session.ErrMissingUser)
	_, err = f.svc.Create(context.Background(), session.CreateRequest{UserID: "u1", Role: "owner"})
	require.ErrorIs(t, err, session.ErrInvalidRole)
}

// interleavingRepo runs afterGet once, right after a record has been loaded, to
// stand in for a concurrent request landing between the read and the refresh.
type interleavingRepo struct {
	*repositories.SessionRedisRepository
	afterGet func()
}

func (r *interleavingRepo) Get(ctx context.Context, sessionID string) (*session.Record, error) {
	rec, err := r.SessionRedisRepository.Get(ctx, sessionID)
	if hook := r.afterGet; hook != nil {
		r.afterGet = nil
		hook()
	}
	return rec, err
}

func newInterleavingFixture(t *testing.T) (*sessionFixture, *interleavingRepo) {
	t.Helper()
	mr, store := testutil.NewStore(t)
	clock := &fakeClock{now: time.Unix(1_800_000_000, 0)}
	notifier := &tmocks.NotifierMock{}
	repo := &interleavingRepo{SessionRedisRepository: repositories.NewSessionRedisRepository(store, nil)}
	svc := impl.NewSessionService(repo, notifier, sessionConfig(clock), nil)
	return &sessionFixture{mr: mr, svc: svc, clock: clock, notifier: notifier}, repo
}

func TestSession_ForceLogoutDuringValidateIsNotUndone(t *testing.T) {
	f, repo := newInterleavingFixture(t)
	ctx := context.Background()
	issued := f.create(t, "u1", session.RoleUser, session.Options{})

	repo.afterGet = func() {
		n, err := f.svc.ForceLogout(ctx, "u1", "account locked")
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
	_, err := f.svc.Validate(ctx, issued.Token, laptop)
	require.ErrorIs(t, err, session.ErrNoSession)
	require.True(t, session.IsReauthenticate(err))

	require.Empty(t, f.mr.Keys())
	listed, err := f.svc.ListUserSessions(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, listed)

	_, err = f.svc.Validate(ctx, issued.Token, laptop)
	require.ErrorIs(t, err, session.ErrNoSession)
}

func TestSession_DestroyDuringValidateIsNotUndone(t *testing.T) {
	f, repo := newInterleavingFixture(t)
	ctx := context.Background()
	issued := f.create(t, "u1", session.RoleUser, session.Options{})

	repo.afterGet = func() {
		require.NoError(t, f.svc.Destroy(ctx, issued.Token))
	}
	_, err := f.svc.Validate(ctx, issued.Token, laptop)
	require.ErrorIs(t, err, session.ErrNoSession)
	require.False(t, f.mr.Exists("session:data:"+issued.Session.SessionID))
	require.False(t, f.mr.Exists("session:active:u1:"+issued.Session.SessionID))
}

func TestSession_WrongTypeRecordAsksForReauthentication(t *testing.T) {
	f := newSessionFixture(t)
	issued := f.create(t, "u1", session.RoleUser, session.Options{})
	key := "session:data:" + issued.Session.SessionID
	f.mr.Del(key)
	_, err := f.mr.Lpush(key, "x")
	require.NoError(t, err)

	_, err = f.svc.Validate(context.Background(), issued.Token, laptop)
	require.ErrorIs(t, err, session.ErrNoSession)
	require.True(t, session.IsReauthenticate(err))
	require.False(t, f.mr.Exists(key))
}
