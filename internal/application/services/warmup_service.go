package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/avatarctic/marketplace-core/internal/core/domain/cache"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
)

// WarmupDataset is one aggregate kept hot in the cache.
type WarmupDataset struct {
	Name     string
	Key      string
	Interval time.Duration
	TTL      time.Duration
	Load     func(ctx context.Context) (any, error)
}

// WarmupConfig groups configuration parameters for the warmup scheduler.
type WarmupConfig struct {
	StartDelay     time.Duration
	DatasetTimeout time.Duration
}

// WarmupService populates frequently read aggregates. Every dataset runs on its own
// deadline and schedule, so a slow or failing source never holds the others back.
type WarmupService struct {
	cache  ports.Cache
	cfg    WarmupConfig
	logger *logrus.Logger

	mu       sync.RWMutex
	datasets map[string]WarmupDataset
	status   map[string]*cache.DatasetStatus
}

var _ ports.CacheWarmer = (*WarmupService)(nil)

func NewWarmupService(c ports.Cache, cfg WarmupConfig, logger *logrus.Logger) *WarmupService {
	if cfg.DatasetTimeout <= 0 {
		cfg.DatasetTimeout = 30 * time.Second
	}
	return &WarmupService{
		cache:    c,
		cfg:      cfg,
		logger:   logger,
		datasets: map[string]WarmupDataset{},
		status:   map[string]*cache.DatasetStatus{},
	}
}

// Register adds a dataset. Names must be unique.
func (s *WarmupService) Register(ds WarmupDataset) error {
	if ds.Name == "" || ds.Key == "" || ds.Load == nil {
		return fmt.Errorf("warmup dataset needs a name, key and loader")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[ds.Name]; ok {
		return fmt.Errorf("warmup dataset %q already registered", ds.Name)
	}
	s.datasets[ds.Name] = ds
	s.status[ds.Name] = &cache.DatasetStatus{Name: ds.Name, Key: ds.Key, Interval: ds.Interval, TTL: ds.TTL}
	return nil
}

// WarmDataset loads one dataset and overwrites its cache entry.
func (s *WarmupService) WarmDataset(ctx context.Context, name string) error {
	s.mu.RLock()
	ds, ok := s.datasets[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown warmup dataset %q", name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DatasetTimeout)
	defer cancel()

	start := time.Now()
	err := s.warm(ctx, ds)
	s.finish(ds, start, err)
	return err
}

func (s *WarmupService) warm(ctx context.Context, ds WarmupDataset) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load %s: panic: %v", ds.Name, r)
		}
	}()
	v, err := ds.Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s: %w", ds.Name, err)
	}
	if err := s.cache.Set(ctx, ds.Key, v, ds.TTL); err != nil {
		return fmt.Errorf("store %s: %w", ds.Name, err)
	}
	return nil
}

func (s *WarmupService) finish(ds WarmupDataset, start time.Time, err error) {
	took := time.Since(start)
	s.mu.Lock()
	st := s.status[ds.Name]
	st.Runs++
	st.LastRun = start
	st.LastTook = took
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	} else {
		st.LastSuccess = start
		st.LastError = ""
	}
	s.mu.Unlock()

	if s.logger == nil {
		return
	}
	entry := s.logger.WithFields(logrus.Fields{"dataset": ds.Name, "key": ds.Key, "duration": took.String()})
	if err != nil {
		entry.WithError(err).Warn("cache warmup failed")
		return
	}
	entry.Info("cache warmed")
}

// WarmAll warms every dataset concurrently and returns each dataset's outcome; a nil
// value means success.
func (s *WarmupService) WarmAll(ctx context.Context) map[string]error {
	names := s.names()
	results := make(map[string]error, len(names))
	var mu sync.Mutex
	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			err := s.WarmDataset(ctx, name)
			mu.Lock()
			results[name] = err
			mu.Unlock()
			// never cancel siblings
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ScheduleRecurring waits StartDelay, warms everything once, then refreshes each
// dataset on its own interval until ctx is done.
func (s *WarmupService) ScheduleRecurring(ctx context.Context) {
	if s.cfg.StartDelay > 0 {
		t := time.NewTimer(s.cfg.StartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	s.WarmAll(ctx)

	var wg sync.WaitGroup
	for _, name := range s.names() {
		s.mu.RLock()
		interval := s.datasets[name].Interval
		s.mu.RUnlock()
		if interval <= 0 {
			continue
		}
		wg.Add(1)
		go func(name string, interval time.Duration) {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					_ = s.WarmDataset(ctx, name)
				}
			}
		}(name, interval)
	}
	wg.Wait()
}

// Start runs ScheduleRecurring in the background.
func (s *WarmupService) Start(ctx context.Context) {
	go s.ScheduleRecurring(ctx)
}

// Datasets returns the status of every registered dataset sorted by name.
func (s *WarmupService) Datasets() []cache.DatasetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]cache.DatasetStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *WarmupService) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.datasets))
	for n := range s.datasets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CatalogWarmupIntervals are the refresh intervals of the catalog datasets.
type CatalogWarmupIntervals struct {
	Popular     time.Duration
	Categories  time.Duration
	Featured    time.Duration
	Recent      time.Duration
	BestSellers time.Duration
}

// CatalogDatasets returns the standard marketplace aggregates read from src.
func CatalogDatasets(src ports.CatalogSource, topN int, ttls cache.TTLTiers, every CatalogWarmupIntervals) []WarmupDataset {
	return []WarmupDataset{
		{
			Name: "popular", Key: cache.PopularProductsKey, Interval: every.Popular, TTL: ttls.For(cache.KindPopular),
			Load: func(ctx context.Context) (any, error) { return src.PopularProducts(ctx, topN) },
		},
		{
			Name: "categories", Key: cache.CategoriesKey, Interval: every.Categories, TTL: ttls.For(cache.KindCategories),
			Load: func(ctx context.Context) (any, error) { return src.Categories(ctx) },
		},
		{
			Name: "featured", Key: cache.FeaturedProductsKey, Interval: every.Featured, TTL: ttls.For(cache.KindFeatured),
			Load: func(ctx context.Context) (any, error) { return src.FeaturedProducts(ctx, topN) },
		},
		{
			Name: "recent", Key: cache.RecentProductsKey, Interval: every.Recent, TTL: ttls.For(cache.KindRecent),
			Load: func(ctx context.Context) (any, error) { return src.RecentProducts(ctx, topN) },
		},
		{
			Name: "bestsellers", Key: cache.BestSellersKey, Interval: every.BestSellers, TTL: ttls.For(cache.KindBestSellers),
			Load: func(ctx context.Context) (any, error) { return src.BestSellers(ctx, topN) },
		},
	}
}
