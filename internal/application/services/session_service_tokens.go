package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
)

// signToken produces the client's copy of the session. It expires at the session's
// absolute ceiling; idle expiry is enforced against the stored record.
func (s *SessionService) signToken(rec *session.Record) (string, error) {
	claims := &session.Claims{
		SessionID:    rec.SessionID,
		UserID:       rec.UserID,
		Email:        rec.Email,
		Role:         rec.Role,
		Fingerprint:  rec.Fingerprint,
		Trusted:      rec.Trusted,
		RememberMe:   rec.RememberMe,
		IPRestricted: rec.IPRestricted,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        rec.SessionID,
			Subject:   rec.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(rec.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(rec.CreatedAt.Add(s.lifetimes.MaxAge(rec.Role))),
		},
	}
	if rec.IPRestricted {
		claims.IP = rec.IP
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

func (s *SessionService) parseToken(tokenString string) (*session.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	claims, err := s.parseWith(tokenString, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, session.ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", session.ErrInvalidToken, err)
	}
	return claims, nil
}

// parseTokenUnverifiedClaims checks the signature but not expiry, so logout works for
// a token that has already expired.
func (s *SessionService) parseTokenUnverifiedClaims(tokenString string) (*session.Claims, error) {
	claims, err := s.parseWith(tokenString,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrInvalidToken, err)
	}
	return claims, nil
}

func (s *SessionService) parseWith(tokenString string, opts ...jwt.ParserOption) (*session.Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, errors.New("empty token")
	}
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &session.Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*session.Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.SessionID == "" || claims.UserID == "" {
		return nil, errors.New("token lacks session binding")
	}
	return claims, nil
}

// recordFromClaims rebuilds what the token carries when the store cannot be read.
func recordFromClaims(c *session.Claims) *session.Record {
	rec := &session.Record{
		SessionID:    c.SessionID,
		UserID:       c.UserID,
		Email:        c.Email,
		Role:         c.Role,
		Fingerprint:  c.Fingerprint,
		IP:           c.IP,
		Trusted:      c.Trusted,
		RememberMe:   c.RememberMe,
		IPRestricted: c.IPRestricted,
	}
	if c.IssuedAt != nil {
		rec.CreatedAt = c.IssuedAt.Time
		rec.LastActivity = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		rec.ExpiresAt = c.ExpiresAt.Time
	}
	return rec
}
