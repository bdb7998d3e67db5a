// Package metrics exports the in-process analytics of the cache, rate limiter and
// session manager. Collectors read a snapshot on every scrape, so the hot paths only
// touch their own atomic counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avatarctic/marketplace-core/internal/core/domain/cache"
	"github.com/avatarctic/marketplace-core/internal/core/domain/ratelimit"
	"github.com/avatarctic/marketplace-core/internal/core/domain/session"
)

const namespace = "marketplace"

type cacheStatsSource interface {
	Stats() cache.Stats
}

type rateLimitStatsSource interface {
	Stats() []ratelimit.ProfileStats
}

type sessionStatsSource interface {
	Stats() session.Stats
}

func newDesc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

// CacheCollector exports cache.Stats.
type CacheCollector struct {
	src cacheStatsSource

	lookups, sets, deletes, errors, corrupt, compressed, bytesSaved, latency, hitRate *prometheus.Desc
}

func NewCacheCollector(src cacheStatsSource) *CacheCollector {
	return &CacheCollector{
		src:        src,
		lookups:    newDesc("cache", "lookups_total", "Cache lookups by result.", "result"),
		sets:       newDesc("cache", "sets_total", "Values written to the cache."),
		deletes:    newDesc("cache", "deletes_total", "Keys removed from the cache."),
		errors:     newDesc("cache", "errors_total", "Cache operations that failed against the store."),
		corrupt:    newDesc("cache", "corrupt_total", "Undecodable entries that were evicted."),
		compressed: newDesc("cache", "compressed_writes_total", "Writes stored compressed."),
		bytesSaved: newDesc("cache", "compression_saved_bytes_total", "Bytes saved by compression."),
		latency:    newDesc("cache", "store_latency_seconds_total", "Cumulative store round trip time."),
		hitRate:    newDesc("cache", "hit_ratio", "Hits over lookups since the last reset."),
	}
}

func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.lookups, c.sets, c.deletes, c.errors, c.corrupt, c.compressed, c.bytesSaved, c.latency, c.hitRate} {
		ch <- d
	}
}

func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(s.Hits), "hit")
	ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(s.Misses), "miss")
	ch <- prometheus.MustNewConstMetric(c.sets, prometheus.CounterValue, float64(s.Sets))
	ch <- prometheus.MustNewConstMetric(c.deletes, prometheus.CounterValue, float64(s.Deletes))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors))
	ch <- prometheus.MustNewConstMetric(c.corrupt, prometheus.CounterValue, float64(s.Corrupt))
	ch <- prometheus.MustNewConstMetric(c.compressed, prometheus.CounterValue, float64(s.CompressedWrites))
	ch <- prometheus.MustNewConstMetric(c.bytesSaved, prometheus.CounterValue, float64(s.BytesSaved))
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.CounterValue, s.TotalLatency.Seconds())
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, s.HitRate())
}

// RateLimitCollector exports per-profile admission counters.
type RateLimitCollector struct {
	src       rateLimitStatsSource
	decisions *prometheus.Desc
	refunds   *prometheus.Desc
}

func NewRateLimitCollector(src rateLimitStatsSource) *RateLimitCollector {
	return &RateLimitCollector{
		src:       src,
		decisions: newDesc("rate_limit", "decisions_total", "Rate limit decisions by profile and outcome.", "profile", "outcome"),
		refunds:   newDesc("rate_limit", "refunds_total", "Requests given back after a successful attempt.", "profile"),
	}
}

func (c *RateLimitCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.decisions
	ch <- c.refunds
}

func (c *RateLimitCollector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range c.src.Stats() {
		profile := string(p.Profile)
		ch <- prometheus.MustNewConstMetric(c.decisions, prometheus.CounterValue, float64(p.Allowed), profile, "allowed")
		ch <- prometheus.MustNewConstMetric(c.decisions, prometheus.CounterValue, float64(p.Rejected), profile, "rejected")
		ch <- prometheus.MustNewConstMetric(c.decisions, prometheus.CounterValue, float64(p.Degraded), profile, "degraded")
		ch <- prometheus.MustNewConstMetric(c.refunds, prometheus.CounterValue, float64(p.Refunded), profile)
	}
}

// SessionCollector exports session lifecycle counters.
type SessionCollector struct {
	src sessionStatsSource

	created, validated, rejected, destroyed, forced, degraded *prometheus.Desc
}

func NewSessionCollector(src sessionStatsSource) *SessionCollector {
	return &SessionCollector{
		src:       src,
		created:   newDesc("session", "created_total", "Sessions issued."),
		validated: newDesc("session", "validated_total", "Successful session validations."),
		rejected:  newDesc("session", "rejected_total", "Rejected session validations by reason.", "reason"),
		destroyed: newDesc("session", "destroyed_total", "Sessions ended by logout."),
		forced:    newDesc("session", "forced_logout_total", "Sessions ended by forced logout."),
		degraded:  newDesc("session", "degraded_validations_total", "Validations served from token claims during a store outage."),
	}
}

func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.created, c.validated, c.rejected, c.destroyed, c.forced, c.degraded} {
		ch <- d
	}
}

func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.created, prometheus.CounterValue, float64(s.Created))
	ch <- prometheus.MustNewConstMetric(c.validated, prometheus.CounterValue, float64(s.Validated))
	for reason, n := range s.Rejected {
		ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(n), reason)
	}
	ch <- prometheus.MustNewConstMetric(c.destroyed, prometheus.CounterValue, float64(s.Destroyed))
	ch <- prometheus.MustNewConstMetric(c.forced, prometheus.CounterValue, float64(s.Forced))
	ch <- prometheus.MustNewConstMetric(c.degraded, prometheus.CounterValue, float64(s.Degraded))
}

// NewStoreAvailabilityGauge reports 1 while the store is reachable.
func NewStoreAvailabilityGauge(isAvailable func() bool) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "available",
		Help:      "Whether the shared key-value store is reachable.",
	}, func() float64 {
		if isAvailable() {
			return 1
		}
		return 0
	})
}

// Sources are the components exported by Register. Nil sources are skipped.
type Sources struct {
	Cache       cacheStatsSource
	RateLimiter rateLimitStatsSource
	Sessions    sessionStatsSource
	StoreUp     func() bool
}

// Register adds a collector for each non-nil source.
func Register(reg prometheus.Registerer, src Sources) error {
	var cs []prometheus.Collector
	if src.Cache != nil {
		cs = append(cs, NewCacheCollector(src.Cache))
	}
	if src.RateLimiter != nil {
		cs = append(cs, NewRateLimitCollector(src.RateLimiter))
	}
	if src.Sessions != nil {
		cs = append(cs, NewSessionCollector(src.Sessions))
	}
	if src.StoreUp != nil {
		cs = append(cs, NewStoreAvailabilityGauge(src.StoreUp))
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
