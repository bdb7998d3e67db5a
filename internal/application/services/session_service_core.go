package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
)

const notifyTimeout = 10 * time.Second

// SessionServiceConfig groups configuration parameters for the session manager.
type SessionServiceConfig struct {
	Secret    string
	Issuer    string
	Lifetimes session.Lifetimes
	Clock     func() time.Time
}

// SessionService binds sessions to the client that created them and keeps a per-user
// registry so operators can revoke every session of an account.
type SessionService struct {
	repo      ports.SessionRepository
	notifier  ports.SecurityNotifier
	secret    []byte
	issuer    string
	lifetimes session.Lifetimes
	now       func() time.Time
	logger    *logrus.Logger

	created, validated, destroyed, forced, degraded atomic.Int64

	rejectedMu sync.Mutex
	rejected   map[string]int64
}

var _ ports.SessionManager = (*SessionService)(nil)

func NewSessionService(repo ports.SessionRepository, notifier ports.SecurityNotifier, cfg SessionServiceConfig, logger *logrus.Logger) *SessionService {
	s := &SessionService{
		repo:      repo,
		notifier:  notifier,
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		lifetimes: cfg.Lifetimes,
		now:       time.Now,
		logger:    logger,
		rejected:  map[string]int64{},
	}
	if cfg.Clock != nil {
		s.now = cfg.Clock
	}
	return s
}

// Create issues a session for an already authenticated user.
func (s *SessionService) Create(ctx context.Context, req session.CreateRequest) (*session.Issued, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, session.ErrMissingUser
	}
	if req.Role == "" {
		req.Role = session.RoleUser
	}
	if !req.Role.Valid() {
		return nil, fmt.Errorf("%w: %s", session.ErrInvalidRole, req.Role)
	}

	// the caller's pre-login session must not survive the login
	if req.PreviousToken != "" {
		if err := s.Destroy(ctx, req.PreviousToken); err != nil && s.logger != nil {
			s.logger.WithField("user_id", req.UserID).WithError(err).Warn("failed to destroy previous session")
		}
	}

	now := s.now()
	rec := &session.Record{
		SessionID:    uuid.NewString(),
		UserID:       req.UserID,
		Email:        req.Email,
		Role:         req.Role,
		Fingerprint:  s.fingerprint(req.Request),
		IP:           strings.TrimSpace(req.Request.IP),
		UserAgent:    req.Request.UserAgent,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    s.lifetimes.ExpiryAt(now, now, req.Role, req.Options.RememberMe),
		Trusted:      req.Options.TrustedDevice,
		RememberMe:   req.Options.RememberMe,
		IPRestricted: req.Options.IPRestriction,
	}

	token, err := s.signToken(rec)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, rec, rec.ExpiresAt.Sub(now)); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.created.Add(1)
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"user_id": rec.UserID, "session_id": rec.SessionID, "role": rec.Role}).Debug("session created")
	}
	return &session.Issued{
		Token:     token,
		Session:   &session.Session{Record: *rec},
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Validate checks token against the stored session and the requesting client, and
// slides the expiry forward. When the store is unreachable the signed claims are
// trusted instead and the result is flagged Degraded.
func (s *SessionService) Validate(ctx context.Context, token string, rc session.RequestContext) (*session.Session, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil, s.reject(err)
	}

	rec, err := s.repo.Get(ctx, claims.SessionID)
	if errors.Is(err, ports.ErrUnavailable) {
		return s.validateDegraded(ctx, claims, rc)
	}
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			err = fmt.Errorf("%w: %v", session.ErrNoSession, err)
		}
		return nil, s.reject(err)
	}
	if rec.UserID != claims.UserID {
		return nil, s.reject(fmt.Errorf("%w: user mismatch", session.ErrInvalidToken))
	}

	now := s.now()
	if rec.Expired(now) {
		if err := s.repo.Delete(ctx, rec.UserID, rec.SessionID); err != nil && s.logger != nil {
			s.logger.WithField("session_id", rec.SessionID).WithError(err).Warn("failed to delete expired session")
		}
		return nil, s.reject(session.ErrSessionExpired)
	}
	if err := s.checkBinding(ctx, rec, rc); err != nil {
		return nil, s.reject(err)
	}

	rec.LastActivity = now
	rec.ExpiresAt = s.lifetimes.ExpiryAt(rec.CreatedAt, now, rec.Role, rec.RememberMe)
	refreshed, err := s.repo.Refresh(ctx, rec, rec.ExpiresAt.Sub(now))
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		return nil, s.reject(err)
	case err != nil:
		if s.logger != nil {
			s.logger.WithField("session_id", rec.SessionID).WithError(err).Warn("failed to extend session")
		}
	case !refreshed:
		// deleted while this request was in flight
		return nil, s.reject(session.ErrNoSession)
	}

	s.validated.Add(1)
	return &session.Session{Record: *rec}, nil
}

func (s *SessionService) validateDegraded(ctx context.Context, claims *session.Claims, rc session.RequestContext) (*session.Session, error) {
	rec := recordFromClaims(claims)
	if err := s.checkBinding(ctx, rec, rc); err != nil {
		return nil, s.reject(err)
	}
	s.degraded.Add(1)
	s.validated.Add(1)
	return &session.Session{Record: *rec, Degraded: true}, nil
}

// checkBinding rejects a request coming from a client other than the session's
// owner. The session itself is left alone so its owner is not logged out by an
// attacker replaying the token.
func (s *SessionService) checkBinding(ctx context.Context, rec *session.Record, rc session.RequestContext) error {
	if !s.fingerprintMatches(rec.Fingerprint, rc) {
		s.notify(ctx, ports.SecurityEvent{
			Kind:      ports.EventFingerprintMismatch,
			UserID:    rec.UserID,
			Email:     rec.Email,
			SessionID: rec.SessionID,
			IP:        rc.IP,
		})
		return session.ErrFingerprintMismatch
	}
	if rec.IPRestricted && strings.TrimSpace(rc.IP) != rec.IP {
		s.notify(ctx, ports.SecurityEvent{
			Kind:      ports.EventIPChanged,
			UserID:    rec.UserID,
			Email:     rec.Email,
			SessionID: rec.SessionID,
			IP:        rc.IP,
		})
		return session.ErrIPChanged
	}
	return nil
}

// Destroy ends the session behind token. Expired tokens can still be logged out and
// unknown sessions are not an error.
func (s *SessionService) Destroy(ctx context.Context, token string) error {
	claims, err := s.parseTokenUnverifiedClaims(token)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, claims.UserID, claims.SessionID); err != nil {
		return err
	}
	s.destroyed.Add(1)
	return nil
}

// DestroyByID ends a session by id.
func (s *SessionService) DestroyByID(ctx context.Context, sessionID string) error {
	rec, err := s.repo.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, rec.UserID, sessionID); err != nil {
		return err
	}
	s.destroyed.Add(1)
	return nil
}

// ForceLogout destroys every session of userID and returns how many were removed.
// It needs the registry, so it fails with ports.ErrUnavailable during an outage.
func (s *SessionService) ForceLogout(ctx context.Context, userID, reason string) (int, error) {
	ids, err := s.repo.ListUserSessionIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to force logout: %w", err)
	}

	var email string
	count := 0
	for _, id := range ids {
		if email == "" {
			if rec, err := s.repo.Get(ctx, id); err == nil {
				email = rec.Email
			}
		}
		if err := s.repo.Delete(ctx, userID, id); err != nil {
			return count, fmt.Errorf("failed to force logout: %w", err)
		}
		count++
	}

	s.forced.Add(int64(count))
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"user_id": userID, "sessions": count, "reason": reason}).Info("forced logout")
	}
	if count > 0 {
		s.notify(ctx, ports.SecurityEvent{
			Kind:   ports.EventForcedLogout,
			UserID: userID,
			Email:  email,
			Reason: reason,
			Count:  count,
		})
	}
	return count, nil
}

// ListUserSessions returns the live sessions of userID, oldest first.
func (s *SessionService) ListUserSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	ids, err := s.repo.ListUserSessionIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]*session.Session, 0, len(ids))
	for _, id := range ids {
		rec, err := s.repo.Get(ctx, id)
		if errors.Is(err, session.ErrNoSession) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Expired(now) {
			continue
		}
		out = append(out, &session.Session{Record: *rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Stats returns a snapshot of the session counters.
func (s *SessionService) Stats() session.Stats {
	s.rejectedMu.Lock()
	rejected := make(map[string]int64, len(s.rejected))
	for k, v := range s.rejected {
		rejected[k] = v
	}
	s.rejectedMu.Unlock()
	return session.Stats{
		Created:   s.created.Load(),
		Validated: s.validated.Load(),
		Rejected:  rejected,
		Destroyed: s.destroyed.Load(),
		Forced:    s.forced.Load(),
		Degraded:  s.degraded.Load(),
	}
}

func (s *SessionService) reject(err error) error {
	reason := session.RejectReason(err)
	s.rejectedMu.Lock()
	s.rejected[reason]++
	s.rejectedMu.Unlock()
	return err
}

// notify delivers ev in the background; alerts never hold up the request.
func (s *SessionService) notify(ctx context.Context, ev ports.SecurityEvent) {
	if s.notifier == nil {
		return
	}
	ev.OccurredAt = s.now()
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifySecurityEvent(ctx, ev); err != nil && s.logger != nil {
			s.logger.WithFields(logrus.Fields{"user_id": ev.UserID, "event": ev.Kind}).WithError(err).Warn("failed to deliver security event")
		}
	}()
}
