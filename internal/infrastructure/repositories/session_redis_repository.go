package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avatarctic/marketplace-core/internal/core/domain/cache"
	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
)

const sessionDomain = "session"

// SessionRedisRepository stores each session under session:data:<sid> and registers it
// under session:active:<userID>:<sid>. The registry entry mirrors the record's TTL so an
// expired session also drops out of the registry without a sweeper.
type SessionRedisRepository struct {
	store  ports.KVStore
	logger *logrus.Logger
}

func NewSessionRedisRepository(store ports.KVStore, logger *logrus.Logger) *SessionRedisRepository {
	return &SessionRedisRepository{store: store, logger: logger}
}

func sessionDataKey(sessionID string) string {
	return cache.Key(sessionDomain, "data", sessionID)
}

func sessionActiveKey(userID, sessionID string) string {
	return cache.Key(sessionDomain, "active", userID, sessionID)
}

func sessionActivePrefix(userID string) string {
	return cache.Key(sessionDomain, "active", userID) + ":"
}

// Save writes the record and registry entry in one MULTI/EXEC.
func (r *SessionRedisRepository) Save(ctx context.Context, rec *session.Record, ttl time.Duration) error {
	if rec == nil || rec.SessionID == "" || rec.UserID == "" {
		return fmt.Errorf("save session: %w", ports.ErrInvalidKey)
	}
	if ttl <= 0 {
		return fmt.Errorf("save session %s: %w", rec.SessionID, session.ErrSessionExpired)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = r.store.MultiExec(ctx, []ports.Op{
		{Kind: ports.OpSet, Key: sessionDataKey(rec.SessionID), Value: data, TTL: ttl},
		{Kind: ports.OpSet, Key: sessionActiveKey(rec.UserID, rec.SessionID), Value: []byte(rec.CreatedAt.UTC().Format(time.RFC3339)), TTL: ttl},
	})
	if err != nil {
		return fmt.Errorf("failed to store session %s: %w", rec.SessionID, err)
	}
	return nil
}

// Refresh rewrites both keys with SET XX inside one MULTI/EXEC, so a session that was
// deleted concurrently stays deleted.
func (r *SessionRedisRepository) Refresh(ctx context.Context, rec *session.Record, ttl time.Duration) (bool, error) {
	if rec == nil || rec.SessionID == "" || rec.UserID == "" {
		return false, fmt.Errorf("refresh session: %w", ports.ErrInvalidKey)
	}
	if ttl <= 0 {
		return false, fmt.Errorf("refresh session %s: %w", rec.SessionID, session.ErrSessionExpired)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal session: %w", err)
	}
	res, err := r.store.MultiExec(ctx, []ports.Op{
		{Kind: ports.OpSetExisting, Key: sessionDataKey(rec.SessionID), Value: data, TTL: ttl},
		{Kind: ports.OpSetExisting, Key: sessionActiveKey(rec.UserID, rec.SessionID), Value: []byte(rec.CreatedAt.UTC().Format(time.RFC3339)), TTL: ttl},
	})
	if err != nil {
		return false, fmt.Errorf("failed to refresh session %s: %w", rec.SessionID, err)
	}
	if res[0].OK && res[1].OK {
		return true, nil
	}
	if res[0].OK || res[1].OK {
		// half a session is not resumable
		if err := r.Delete(ctx, rec.UserID, rec.SessionID); err != nil && r.logger != nil {
			r.logger.WithField("session_id", rec.SessionID).WithError(err).Warn("failed to drop partial session")
		}
	}
	return false, nil
}

// Get loads a record. A key holding something other than a session record is evicted
// and reported as ErrNoSession.
func (r *SessionRedisRepository) Get(ctx context.Context, sessionID string) (*session.Record, error) {
	data, ok, err := r.store.Get(ctx, sessionDataKey(sessionID))
	if errors.Is(err, ports.ErrUnavailable) {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	if err != nil {
		r.evict(ctx, sessionID)
		return nil, fmt.Errorf("%w: unreadable record: %v", session.ErrNoSession, err)
	}
	if !ok {
		return nil, session.ErrNoSession
	}
	var rec session.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		r.evict(ctx, sessionID)
		return nil, fmt.Errorf("%w: unreadable record", session.ErrNoSession)
	}
	return &rec, nil
}

func (r *SessionRedisRepository) evict(ctx context.Context, sessionID string) {
	if _, err := r.store.Delete(ctx, sessionDataKey(sessionID)); err != nil && r.logger != nil {
		r.logger.WithField("session_id", sessionID).WithError(err).Warn("failed to evict unreadable session")
	}
}

// Delete removes both keys. Missing keys are fine so logout stays idempotent.
func (r *SessionRedisRepository) Delete(ctx context.Context, userID, sessionID string) error {
	keys := []string{sessionDataKey(sessionID)}
	if userID != "" {
		keys = append(keys, sessionActiveKey(userID, sessionID))
	}
	if _, err := r.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// ListUserSessionIDs scans the registry for userID.
func (r *SessionRedisRepository) ListUserSessionIDs(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("list sessions: %w", session.ErrMissingUser)
	}
	prefix := sessionActivePrefix(userID)
	keys, err := r.store.ScanKeys(ctx, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions for user %s: %w", userID, err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		raw := strings.TrimPrefix(k, prefix)
		id, err := url.QueryUnescape(raw)
		if err != nil || id == "" || strings.Contains(raw, ":") {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
