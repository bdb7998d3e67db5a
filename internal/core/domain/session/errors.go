package session

import "errors"

var (
	ErrNoSession           = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")
	ErrFingerprintMismatch = errors.New("session fingerprint mismatch")
	ErrIPChanged           = errors.New("session ip changed")
	ErrInvalidToken        = errors.New("invalid session token")

	ErrMissingUser = errors.New("session user id is required")
	ErrInvalidRole = errors.New("invalid session role")
)

// IsReauthenticate reports whether err means the client must log in again.
func IsReauthenticate(err error) bool {
	return errors.Is(err, ErrNoSession) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrFingerprintMismatch) ||
		errors.Is(err, ErrIPChanged) ||
		errors.Is(err, ErrInvalidToken)
}

// RejectReason is the analytics label for a validation failure.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNoSession):
		return "not_found"
	case errors.Is(err, ErrSessionExpired):
		return "expired"
	case errors.Is(err, ErrFingerprintMismatch):
		return "fingerprint"
	case errors.Is(err, ErrIPChanged):
		return "ip_changed"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	default:
		return "other"
	}
}
