package ports

import (
	"context"
	"time"

	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
)

// SessionRepository persists session records and the per-user registry.
type SessionRepository interface {
	// Save writes the record and its registry entry in one transaction.
	Save(ctx context.Context, rec *session.Record, ttl time.Duration) error
	// Refresh rewrites a record that still exists. It reports false, and writes
	// nothing, once the session has been deleted.
	Refresh(ctx context.Context, rec *session.Record, ttl time.Duration) (bool, error)
	Get(ctx context.Context, sessionID string) (*session.Record, error)
	// Delete removes the record and its registry entry. Missing entries are not an error.
	Delete(ctx context.Context, userID, sessionID string) error
	ListUserSessionIDs(ctx context.Context, userID string) ([]string, error)
}

// SessionManager is the session lifecycle consumed by middleware and operators.
type SessionManager interface {
	Create(ctx context.Context, req session.CreateRequest) (*session.Issued, error)
	Validate(ctx context.Context, token string, rc session.RequestContext) (*session.Session, error)
	Destroy(ctx context.Context, token string) error
	DestroyByID(ctx context.Context, sessionID string) error
	ForceLogout(ctx context.Context, userID, reason string) (int, error)
	ListUserSessions(ctx context.Context, userID string) ([]*session.Session, error)
	Stats() session.Stats
}
