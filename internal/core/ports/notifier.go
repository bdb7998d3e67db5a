package ports

import (
	"context"
	"time"
)

// SecurityEventKind classifies alerts raised by the session manager.
type SecurityEventKind string

const (
	EventFingerprintMismatch SecurityEventKind = "fingerprint_mismatch"
	EventIPChanged           SecurityEventKind = "ip_changed"
	EventForcedLogout        SecurityEventKind = "forced_logout"
)

type SecurityEvent struct {
	Kind       SecurityEventKind
	UserID     string
	Email      string
	SessionID  string
	IP         string
	Reason     string
	Count      int
	OccurredAt time.Time
}

// SecurityNotifier delivers security alerts. Delivery is best effort.
type SecurityNotifier interface {
	NotifySecurityEvent(ctx context.Context, ev SecurityEvent) error
}
