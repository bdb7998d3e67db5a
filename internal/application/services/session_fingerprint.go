package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
)

// fingerprint is an HMAC-SHA256 of the client's device attributes and network prefix,
// keyed with the session secret so a stored value cannot be precomputed offline.
func (s *SessionService) fingerprint(rc session.RequestContext) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(session.FingerprintMaterial(rc)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *SessionService) fingerprintMatches(stored string, rc session.RequestContext) bool {
	return hmac.Equal([]byte(stored), []byte(s.fingerprint(rc)))
}
