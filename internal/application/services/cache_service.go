package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/avatarctic/marketplace-core/internal/core/domain/cache"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
)

// CacheService is the advisory cache in front of the shared store. It never fails a
// read because of the store: outages and undecodable payloads are reported through
// cache.Status and recorded in the analytics.
type CacheService struct {
	store     ports.KVStore
	codec     ports.Codec
	ttls      cache.TTLTiers
	analytics *CacheAnalytics
	logger    *logrus.Logger
	group     singleflight.Group
}

var _ ports.Cache = (*CacheService)(nil)

func NewCacheService(store ports.KVStore, codec ports.Codec, ttls cache.TTLTiers, logger *logrus.Logger) *CacheService {
	return &CacheService{
		store:     store,
		codec:     codec,
		ttls:      ttls,
		analytics: NewCacheAnalytics(),
		logger:    logger,
	}
}

func (s *CacheService) TTLs() cache.TTLTiers { return s.ttls }

func (s *CacheService) Stats() cache.Stats { return s.analytics.Snapshot() }

func (s *CacheService) ResetStats() { s.analytics.Reset() }

// Get decodes the value at key into dest. Only an empty key is an error.
func (s *CacheService) Get(ctx context.Context, key string, dest any) (cache.Status, error) {
	if key == "" {
		return cache.StatusMiss, ports.ErrInvalidKey
	}
	start := time.Now()
	payload, ok, err := s.store.Get(ctx, key)
	s.analytics.observe(time.Since(start))
	if err != nil {
		return s.readFailure(ctx, key, err), nil
	}
	if !ok {
		s.analytics.miss()
		return cache.StatusMiss, nil
	}
	if err := s.codec.Decode(payload, dest); err != nil {
		s.evictCorrupt(ctx, key, err)
		return cache.StatusCorrupt, nil
	}
	s.analytics.hit()
	return cache.StatusHit, nil
}

// readFailure classifies a failed lookup. Anything other than an outage means the key
// holds something we cannot read, so it is evicted.
func (s *CacheService) readFailure(ctx context.Context, key string, err error) cache.Status {
	if errors.Is(err, ports.ErrUnavailable) {
		s.analytics.fail()
		s.analytics.miss()
		s.debug(key, err, "cache get skipped, store unavailable")
		return cache.StatusUnavailable
	}
	s.evictCorrupt(ctx, key, err)
	return cache.StatusCorrupt
}

func (s *CacheService) evictCorrupt(ctx context.Context, key string, cause error) {
	s.analytics.broken()
	s.analytics.miss()
	if s.logger != nil {
		s.logger.WithField("key", key).WithError(cause).Warn("evicting undecodable cache entry")
	}
	if n, err := s.store.Delete(ctx, key); err == nil {
		s.analytics.deleted(n)
	}
}

// Set stores value for ttl; a non-positive ttl uses the medium tier. A store outage is
// returned wrapped in ports.ErrUnavailable and callers may ignore it.
func (s *CacheService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return ports.ErrInvalidKey
	}
	entry, err := s.codec.Encode(value)
	if err != nil {
		s.analytics.fail()
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = s.ttls.Duration(cache.TierMedium)
	}
	start := time.Now()
	err = s.store.SetWithTTL(ctx, key, entry.Payload, ttl)
	s.analytics.observe(time.Since(start))
	if err != nil {
		s.analytics.fail()
		s.debug(key, err, "cache set failed")
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	s.analytics.stored(entry)
	return nil
}

func (s *CacheService) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ports.ErrInvalidKey
	}
	start := time.Now()
	n, err := s.store.Delete(ctx, key)
	s.analytics.observe(time.Since(start))
	if err != nil {
		s.analytics.fail()
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	s.analytics.deleted(n)
	return nil
}

// DeleteByPattern removes every key matching pattern, e.g. products:catalog:*.
func (s *CacheService) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	start := time.Now()
	n, err := s.store.DeleteByPattern(ctx, pattern)
	s.analytics.observe(time.Since(start))
	s.analytics.deleted(n)
	if err != nil {
		if !errors.Is(err, ports.ErrInvalidKey) {
			s.analytics.fail()
		}
		return n, fmt.Errorf("cache delete pattern %s: %w", pattern, err)
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"pattern": pattern, "deleted": n}).Debug("cache pattern invalidated")
	}
	return n, nil
}

// MultiGet reads keys in one round trip and returns the hits keyed by cache key.
func (s *CacheService) MultiGet(ctx context.Context, keys []string, newDest func() any) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	ops := make([]ports.Op, len(keys))
	for i, k := range keys {
		if k == "" {
			return nil, ports.ErrInvalidKey
		}
		ops[i] = ports.Op{Kind: ports.OpGet, Key: k}
	}
	start := time.Now()
	results, err := s.store.MultiExec(ctx, ops)
	s.analytics.observe(time.Since(start))
	if err != nil {
		s.analytics.fail()
		s.analytics.misses.Add(int64(len(keys)))
		s.debug(fmt.Sprintf("%d keys", len(keys)), err, "cache multi-get skipped")
		return out, nil
	}
	for i, res := range results {
		if !res.Found {
			s.analytics.miss()
			continue
		}
		dest := newDest()
		if err := s.codec.Decode(res.Value, dest); err != nil {
			s.evictCorrupt(ctx, keys[i], err)
			continue
		}
		s.analytics.hit()
		out[keys[i]] = dest
	}
	return out, nil
}

// MultiSet writes every value with the same ttl in one transaction.
func (s *CacheService) MultiSet(ctx context.Context, values map[string]any, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = s.ttls.Duration(cache.TierMedium)
	}
	ops := make([]ports.Op, 0, len(values))
	entries := make([]cache.Entry, 0, len(values))
	for k, v := range values {
		if k == "" {
			return ports.ErrInvalidKey
		}
		entry, err := s.codec.Encode(v)
		if err != nil {
			s.analytics.fail()
			return fmt.Errorf("cache multi-set %s: %w", k, err)
		}
		entries = append(entries, entry)
		ops = append(ops, ports.Op{Kind: ports.OpSet, Key: k, Value: entry.Payload, TTL: ttl})
	}
	start := time.Now()
	_, err := s.store.MultiExec(ctx, ops)
	s.analytics.observe(time.Since(start))
	if err != nil {
		s.analytics.fail()
		return fmt.Errorf("cache multi-set: %w", err)
	}
	for _, e := range entries {
		s.analytics.stored(e)
	}
	return nil
}

// Exists reports presence; an outage reads as absent.
func (s *CacheService) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ports.ErrInvalidKey
	}
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		s.analytics.fail()
		s.debug(key, err, "cache exists skipped")
		return false, nil
	}
	return ok, nil
}

// InvalidateProduct drops everything that may embed the product: the item itself, every
// listing and catalog page, search results, and the owning shop's listings.
func (s *CacheService) InvalidateProduct(ctx context.Context, productID, shopID string) (int64, error) {
	if productID == "" {
		return 0, ports.ErrInvalidKey
	}
	var total int64
	var errs []error
	n, err := s.store.Delete(ctx, cache.ProductKey(productID))
	if err != nil {
		s.analytics.fail()
		errs = append(errs, fmt.Errorf("cache delete product %s: %w", productID, err))
	}
	s.analytics.deleted(n)
	total += n
	patterns := []string{
		cache.Pattern(cache.DomainProducts, "list"),
		cache.Pattern(cache.DomainProducts, "catalog"),
		cache.Pattern(cache.DomainSearch, "results"),
	}
	if shopID != "" {
		patterns = append(patterns, cache.PrefixPattern(cache.Key(cache.DomainShops, "products", shopID)))
	}
	for _, p := range patterns {
		n, err := s.DeleteByPattern(ctx, p)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (s *CacheService) debug(key string, err error, msg string) {
	if s.logger == nil {
		return
	}
	s.logger.WithField("key", key).WithError(err).Debug(msg)
}

// GetTyped reads key as a T.
func GetTyped[T any](ctx context.Context, c ports.Cache, key string) (T, cache.Status, error) {
	var v T
	st, err := c.Get(ctx, key, &v)
	if err != nil || !st.Found() {
		var zero T
		return zero, st, err
	}
	return v, st, nil
}

// Remember is read-through: on a miss it runs load once per key across concurrent
// callers, caches the result for ttl and returns it. Cache failures never fail the call;
// load errors are returned as-is and nothing is cached.
func Remember[T any](ctx context.Context, c *CacheService, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	if v, st, err := GetTyped[T](ctx, c, key); err != nil {
		var zero T
		return zero, err
	} else if st.Found() {
		return v, nil
	}
	res, err, _ := c.group.Do(key, func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, loaded, ttl); err != nil {
			c.debug(key, err, "read-through populate failed")
		}
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected type from singleflight result for %s", key)
	}
	return v, nil
}
