package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/avatarctic/marketplace-core/internal/core/domain/cache"
)

// CacheAnalytics holds process-wide cache counters. Updates are plain atomic adds on the
// request path; exporters read a Snapshot.
type CacheAnalytics struct {
	hits             atomic.Int64
	misses           atomic.Int64
	sets             atomic.Int64
	deletes          atomic.Int64
	errors           atomic.Int64
	corrupt          atomic.Int64
	compressedWrites atomic.Int64
	bytesSaved       atomic.Int64
	operations       atomic.Int64
	latencyNanos     atomic.Int64

	mu    sync.RWMutex
	since time.Time
}

func NewCacheAnalytics() *CacheAnalytics {
	return &CacheAnalytics{since: time.Now()}
}

func (a *CacheAnalytics) hit()    { a.hits.Add(1) }
func (a *CacheAnalytics) miss()   { a.misses.Add(1) }
func (a *CacheAnalytics) fail()   { a.errors.Add(1) }
func (a *CacheAnalytics) broken() { a.corrupt.Add(1) }

func (a *CacheAnalytics) deleted(n int64) {
	if n > 0 {
		a.deletes.Add(n)
	}
}

func (a *CacheAnalytics) stored(e cache.Entry) {
	a.sets.Add(1)
	if e.Compressed {
		a.compressedWrites.Add(1)
		a.bytesSaved.Add(int64(e.BytesSaved()))
	}
}

func (a *CacheAnalytics) observe(d time.Duration) {
	a.operations.Add(1)
	a.latencyNanos.Add(int64(d))
}

func (a *CacheAnalytics) Snapshot() cache.Stats {
	a.mu.RLock()
	since := a.since
	a.mu.RUnlock()
	return cache.Stats{
		Hits:             a.hits.Load(),
		Misses:           a.misses.Load(),
		Sets:             a.sets.Load(),
		Deletes:          a.deletes.Load(),
		Errors:           a.errors.Load(),
		Corrupt:          a.corrupt.Load(),
		CompressedWrites: a.compressedWrites.Load(),
		BytesSaved:       a.bytesSaved.Load(),
		Operations:       a.operations.Load(),
		TotalLatency:     time.Duration(a.latencyNanos.Load()),
		Since:            since,
	}
}

// Reset zeroes every counter. Only operators call it.
func (a *CacheAnalytics) Reset() {
	for _, c := range []*atomic.Int64{
		&a.hits, &a.misses, &a.sets, &a.deletes, &a.errors, &a.corrupt,
		&a.compressedWrites, &a.bytesSaved, &a.operations, &a.latencyNanos,
	} {
		c.Store(0)
	}
	a.mu.Lock()
	a.since = time.Now()
	a.mu.Unlock()
}
