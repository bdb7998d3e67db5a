package cache

// Status is the outcome of a cache lookup. Anything other than StatusHit must be
// treated by the caller as a miss; the other values only say why.
type Status int

const (
	StatusMiss Status = iota
	StatusHit
	// StatusUnavailable means the store could not be reached in time.
	StatusUnavailable
	// StatusCorrupt means a payload existed but could not be decoded; it has been evicted.
	StatusCorrupt
)

func (s Status) Found() bool {
	return s == StatusHit
}

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusMiss:
		return "miss"
	case StatusUnavailable:
		return "unavailable"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}
