package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avatarctic/marketplace-core/internal/core/domain/catalog"
	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
)

// UnavailableStore behaves like a store that is down: every command fails with
// ports.ErrUnavailable.
type UnavailableStore struct{}

var _ ports.KVStore = UnavailableStore{}

func unavailable(op string) error { return fmt.Errorf("%s: %w", op, ports.ErrUnavailable) }

func (UnavailableStore) Connect(ctx context.Context) error            { return unavailable("connect") }
func (UnavailableStore) IsAvailable() bool                            { return false }
func (UnavailableStore) OnAvailabilityChange(fn func(available bool)) {}
func (UnavailableStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, unavailable("get")
}
func (UnavailableStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return unavailable("set")
}
func (UnavailableStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	return 0, unavailable("del")
}
func (UnavailableStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	return 0, unavailable("scan")
}
func (UnavailableStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	return nil, unavailable("scan")
}
func (UnavailableStore) Exists(ctx context.Context, key string) (bool, error) {
	return false, unavailable("exists")
}
func (UnavailableStore) Increment(ctx context.Context, key string) (int64, error) {
	return 0, unavailable("incr")
}
func (UnavailableStore) IncrementBy(ctx context.Context, key string, delta int64) (int64, error) {
	return 0, unavailable("incrby")
}
func (UnavailableStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, unavailable("expire")
}
func (UnavailableStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return 0, unavailable("pttl")
}
func (UnavailableStore) IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, unavailable("incr window")
}
func (UnavailableStore) DecrementFloor(ctx context.Context, key string) (int64, error) {
	return 0, unavailable("decr")
}
func (UnavailableStore) MultiExec(ctx context.Context, ops []ports.Op) ([]ports.OpResult, error) {
	return nil, unavailable("multi")
}
func (UnavailableStore) Ping(ctx context.Context) error { return unavailable("ping") }
func (UnavailableStore) Close() error                   { return nil }

// CatalogSourceMock is a lightweight mock for CatalogSource
type CatalogSourceMock struct {
	PopularProductsFn  func(ctx context.Context, limit int) ([]catalog.ProductSummary, error)
	FeaturedProductsFn func(ctx context.Context, limit int) ([]catalog.ProductSummary, error)
	RecentProductsFn   func(ctx context.Context, limit int) ([]catalog.ProductSummary, error)
	BestSellersFn      func(ctx context.Context, limit int) ([]catalog.ProductSummary, error)
	CategoriesFn       func(ctx context.Context) ([]catalog.CategorySummary, error)
}

func (m *CatalogSourceMock) PopularProducts(ctx context.Context, limit int) ([]catalog.ProductSummary, error) {
	if m.PopularProductsFn != nil {
		return m.PopularProductsFn(ctx, limit)
	}
	return nil, nil
}
func (m *CatalogSourceMock) FeaturedProducts(ctx context.Context, limit int) ([]catalog.ProductSummary, error) {
	if m.FeaturedProductsFn != nil {
		return m.FeaturedProductsFn(ctx, limit)
	}
	return nil, nil
}
func (m *CatalogSourceMock) RecentProducts(ctx context.Context, limit int) ([]catalog.ProductSummary, error) {
	if m.RecentProductsFn != nil {
		return m.RecentProductsFn(ctx, limit)
	}
	return nil, nil
}
func (m *CatalogSourceMock) BestSellers(ctx context.Context, limit int) ([]catalog.ProductSummary, error) {
	if m.BestSellersFn != nil {
		return m.BestSellersFn(ctx, limit)
	}
	return nil, nil
}
func (m *CatalogSourceMock) Categories(ctx context.Context) ([]catalog.CategorySummary, error) {
	if m.CategoriesFn != nil {
		return m.CategoriesFn(ctx)
	}
	return nil, nil
}

// NotifierMock records security events.
type NotifierMock struct {
	mu     sync.Mutex
	Events []ports.SecurityEvent
	Err    error
}

func (m *NotifierMock) NotifySecurityEvent(ctx context.Context, ev ports.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
	return m.Err
}

func (m *NotifierMock) Recorded() []ports.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.SecurityEvent(nil), m.Events...)
}

// RateLimiterMock is a lightweight mock for RateLimiter
type RateLimiterMock struct {
	AdmitFn       func(ctx context.Context, identifier string, profile ratelimit.Profile) (ratelimit.Decision, error)
	AdmitWindowFn func(ctx context.Context, identifier string, window time.Duration, max int) (ratelimit.Decision, error)
	RefundFn      func(ctx context.Context, d ratelimit.Decision) error
	Policies      map[ratelimit.Profile]ratelimit.Policy
}

func (m *RateLimiterMock) Admit(ctx context.Context, identifier string, profile ratelimit.Profile) (ratelimit.Decision, error) {
	if m.AdmitFn != nil {
		return m.AdmitFn(ctx, identifier, profile)
	}
	return ratelimit.Decision{Allowed: true, Profile: profile}, nil
}
func (m *RateLimiterMock) AdmitWindow(ctx context.Context, identifier string, window time.Duration, max int) (ratelimit.Decision, error) {
	if m.AdmitWindowFn != nil {
		return m.AdmitWindowFn(ctx, identifier, window, max)
	}
	return ratelimit.Decision{Allowed: true, Limit: max, Remaining: max - 1, Window: window}, nil
}
func (m *RateLimiterMock) Refund(ctx context.Context, d ratelimit.Decision) error {
	if m.RefundFn != nil {
		return m.RefundFn(ctx, d)
	}
	return nil
}
func (m *RateLimiterMock) Policy(profile ratelimit.Profile) (ratelimit.Policy, bool) {
	p, ok := m.Policies[profile]
	return p, ok
}
func (m *RateLimiterMock) Stats() []ratelimit.ProfileStats { return nil }

// SessionManagerMock is a lightweight mock for SessionManager
type SessionManagerMock struct {
	CreateFn           func(ctx context.Context, req session.CreateRequest) (*session.Issued, error)
	ValidateFn         func(ctx context.Context, token string, rc session.RequestContext) (*session.Session, error)
	DestroyFn          func(ctx context.Context, token string) error
	DestroyByIDFn      func(ctx context.Context, sessionID string) error
	ForceLogoutFn      func(ctx context.Context, userID, reason string) (int, error)
	ListUserSessionsFn func(ctx context.Context, userID string) ([]*session.Session, error)
}

func (m *SessionManagerMock) Create(ctx context.Context, req session.CreateRequest) (*session.Issued, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, req)
	}
	return nil, fmt.Errorf("not implemented")
}
func (m *SessionManagerMock) Validate(ctx context.Context, token string, rc session.RequestContext) (*session.Session, error) {
	if m.ValidateFn != nil {
		return m.ValidateFn(ctx, token, rc)
	}
	return nil, session.ErrNoSession
}
func (m *SessionManagerMock) Destroy(ctx context.Context, token string) error {
	if m.DestroyFn != nil {
		return m.DestroyFn(ctx, token)
	}
	return nil
}
func (m *SessionManagerMock) DestroyByID(ctx context.Context, sessionID string) error {
	if m.DestroyByIDFn != nil {
		return m.DestroyByIDFn(ctx, sessionID)
	}
	return nil
}
func (m *SessionManagerMock) ForceLogout(ctx context.Context, userID, reason string) (int, error) {
	if m.ForceLogoutFn != nil {
		return m.ForceLogoutFn(ctx, userID, reason)
	}
	return 0, nil
}
func (m *SessionManagerMock) ListUserSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	if m.ListUserSessionsFn != nil {
		return m.ListUserSessionsFn(ctx, userID)
	}
	return nil, nil
}
func (m *SessionManagerMock) Stats() session.Stats { return session.Stats{} }
