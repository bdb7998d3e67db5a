package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role of the session owner. Admin sessions get a shorter lifetime ceiling.
type Role string

const (
	RoleUser   Role = "user"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// RequestContext carries the client attributes a session is bound to.
type RequestContext struct {
	IP             string `json:"ip"`
	UserAgent      string `json:"user_agent"`
	AcceptLanguage string `json:"accept_language"`
	AcceptEncoding string `json:"accept_encoding"`
}

// Options tune a new session.
type Options struct {
	RememberMe    bool `json:"remember_me"`
	TrustedDevice bool `json:"trusted_device"`
	IPRestriction bool `json:"ip_restriction"`
}

// CreateRequest is issued after the caller has authenticated the user.
type CreateRequest struct {
	UserID  string
	Email   string
	Role    Role
	Request RequestContext
	Options Options
	// PreviousToken, when set, is destroyed before the new session is issued.
	PreviousToken string
}

// Record is the stored state of one session.
type Record struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	Role         Role      `json:"role"`
	Fingerprint  string    `json:"fingerprint"`
	IP           string    `json:"ip"`
	UserAgent    string    `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	Trusted      bool      `json:"trusted"`
	RememberMe   bool      `json:"remember_me"`
	IPRestricted bool      `json:"ip_restricted"`
}

func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Session is a validated session. Degraded is set when it was verified from the
// signed token alone because the registry could not be reached.
type Session struct {
	Record
	Degraded bool `json:"degraded"`
}

// Issued is returned from Create.
type Issued struct {
	Token     string    `json:"token"`
	Session   *Session  `json:"session"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims is the signed, self-contained copy of the session binding.
type Claims struct {
	SessionID    string `json:"sid"`
	UserID       string `json:"uid"`
	Email        string `json:"email,omitempty"`
	Role         Role   `json:"role"`
	Fingerprint  string `json:"fp"`
	IP           string `json:"ip,omitempty"`
	Trusted      bool   `json:"trusted,omitempty"`
	RememberMe   bool   `json:"remember,omitempty"`
	IPRestricted bool   `json:"ip_restricted,omitempty"`

	jwt.RegisteredClaims
}

// Lifetimes bounds how long sessions live.
type Lifetimes struct {
	Default     time.Duration
	RememberMe  time.Duration
	AdminMaxAge time.Duration
	Absolute    time.Duration
}

// IdleTTL is how far each validation pushes expiry out.
func (l Lifetimes) IdleTTL(role Role, rememberMe bool) time.Duration {
	if role.IsAdmin() {
		return l.AdminMaxAge
	}
	if rememberMe {
		return l.RememberMe
	}
	return l.Default
}

// MaxAge is the hard ceiling measured from creation.
func (l Lifetimes) MaxAge(role Role) time.Duration {
	if role.IsAdmin() && l.AdminMaxAge < l.Absolute {
		return l.AdminMaxAge
	}
	return l.Absolute
}

// ExpiryAt computes the sliding expiry for a session touched at now.
func (l Lifetimes) ExpiryAt(createdAt, now time.Time, role Role, rememberMe bool) time.Time {
	idle := now.Add(l.IdleTTL(role, rememberMe))
	ceiling := createdAt.Add(l.MaxAge(role))
	if idle.After(ceiling) {
		return ceiling
	}
	return idle
}

// Stats is a snapshot of session analytics.
type Stats struct {
	Created   int64            `json:"created"`
	Validated int64            `json:"validated"`
	Rejected  map[string]int64 `json:"rejected"`
	Destroyed int64            `json:"destroyed"`
	Forced    int64            `json:"forced"`
	Degraded  int64            `json:"degraded"`
}
