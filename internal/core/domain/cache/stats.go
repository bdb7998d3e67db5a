package cache

import "time"

// Stats is a point-in-time snapshot of the cache analytics counters.
type Stats struct {
	Hits             int64         `json:"hits"`
	Misses           int64         `json:"misses"`
	Sets             int64         `json:"sets"`
	Deletes          int64         `json:"deletes"`
	Errors           int64         `json:"errors"`
	Corrupt          int64         `json:"corrupt"`
	CompressedWrites int64         `json:"compressed_writes"`
	BytesSaved       int64         `json:"bytes_saved"`
	Operations       int64         `json:"operations"`
	TotalLatency     time.Duration `json:"total_latency"`
	Since            time.Time     `json:"since"`
}

// HitRate is hits over lookups, zero when nothing was looked up.
func (s Stats) HitRate() float64 {
	lookups := s.Hits + s.Misses
	if lookups == 0 {
		return 0
	}
	return float64(s.Hits) / float64(lookups)
}

// AverageLatency is the mean store round trip per operation.
func (s Stats) AverageLatency() time.Duration {
	if s.Operations == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Operations)
}
