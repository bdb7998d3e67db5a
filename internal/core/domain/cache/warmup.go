package cache

import "time"

// DatasetStatus reports the last outcome of a warmup dataset.
type DatasetStatus struct {
	Name        string        `json:"name"`
	Key         string        `json:"key"`
	Interval    time.Duration `json:"interval"`
	TTL         time.Duration `json:"ttl"`
	Runs        int64         `json:"runs"`
	Failures    int64         `json:"failures"`
	LastRun     time.Time     `json:"last_run,omitempty"`
	LastSuccess time.Time     `json:"last_success,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	LastTook    time.Duration `json:"last_took"`
}
