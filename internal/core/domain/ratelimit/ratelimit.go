package ratelimit

import (
	"errors"
	"time"
)

// Profile names an independent limiter with its own key prefix and window/limit pair.
type Profile string

const (
	ProfileAPI           Profile = "api"
	ProfileAuth          Profile = "auth"
	ProfileUpload        Profile = "upload"
	ProfileSearch        Profile = "search"
	ProfilePasswordReset Profile = "password_reset"
	// ProfileCustom is used for ad-hoc windows passed directly by the caller.
	ProfileCustom Profile = "custom"
)

var (
	ErrUnknownProfile     = errors.New("unknown rate limit profile")
	ErrMissingIdentifier  = errors.New("rate limit identifier is required")
	ErrInvalidWindowLimit = errors.New("rate limit window and max must be positive")
)

// Policy is a fixed-window limit.
type Policy struct {
	Profile     Profile       `json:"profile"`
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
	// SkipSuccessful means only failed attempts should count; callers refund the
	// increment once the attempt is verified as successful.
	SkipSuccessful bool `json:"skip_successful"`
}

func (p Policy) Validate() error {
	if p.Window < time.Second || p.MaxRequests <= 0 {
		return ErrInvalidWindowLimit
	}
	return nil
}

// DefaultPolicies returns the built-in profiles.
func DefaultPolicies() map[Profile]Policy {
	return map[Profile]Policy{
		ProfileAPI:           {Profile: ProfileAPI, Window: 15 * time.Minute, MaxRequests: 100},
		ProfileAuth:          {Profile: ProfileAuth, Window: 15 * time.Minute, MaxRequests: 20, SkipSuccessful: true},
		ProfileUpload:        {Profile: ProfileUpload, Window: time.Hour, MaxRequests: 50},
		ProfileSearch:        {Profile: ProfileSearch, Window: time.Minute, MaxRequests: 60},
		ProfilePasswordReset: {Profile: ProfilePasswordReset, Window: time.Hour, MaxRequests: 5},
	}
}

// WindowID is the index of the fixed window containing now.
func WindowID(now time.Time, window time.Duration) int64 {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return now.Unix() / secs
}

// WindowBounds returns the start and end of the window with the given id.
func WindowBounds(id int64, window time.Duration) (time.Time, time.Time) {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	start := time.Unix(id*secs, 0)
	return start, start.Add(time.Duration(secs) * time.Second)
}

// Decision is the result of one admission check.
type Decision struct {
	Allowed   bool          `json:"allowed"`
	Remaining int           `json:"remaining"`
	Limit     int           `json:"limit"`
	Count     int64         `json:"count"`
	ResetAt   time.Time     `json:"reset_at"`
	Degraded  bool          `json:"degraded"`
	Profile   Profile       `json:"profile"`
	Window    time.Duration `json:"window"`
	// Key is the counter that was incremented; empty when no shared counter was touched.
	Key string `json:"-"`
}

// RetryAfter is how long a rejected caller should wait, never less than a second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait.Round(time.Second)
}

// ProfileStats counts admission outcomes for one profile.
type ProfileStats struct {
	Profile  Profile `json:"profile"`
	Allowed  int64   `json:"allowed"`
	Rejected int64   `json:"rejected"`
	Degraded int64   `json:"degraded"`
	Refunded int64   `json:"refunded"`
}
