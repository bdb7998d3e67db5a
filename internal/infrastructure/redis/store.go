package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/avatarctic/marketplace-core/internal/core/ports"
)

const (
	scanBatch             = 200
	defaultCommandTimeout = 2 * time.Second
	reconnectInitial      = 100 * time.Millisecond
)

// StoreOptions tune the adapter's failure policy.
type StoreOptions struct {
	// KeyPrefix namespaces every key; it is invisible to callers.
	KeyPrefix           string
	CommandTimeout      time.Duration
	ReconnectMaxBackoff time.Duration
	BreakerFailures     uint32
	BreakerOpenTimeout  time.Duration
	Logger              *logrus.Logger
}

func (o *StoreOptions) withDefaults() {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = defaultCommandTimeout
	}
	if o.ReconnectMaxBackoff <= 0 {
		o.ReconnectMaxBackoff = 5 * time.Second
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerOpenTimeout <= 0 {
		o.BreakerOpenTimeout = 5 * time.Second
	}
}

// Store implements ports.KVStore on Redis. Every command runs under a short timeout and
// through a circuit breaker; transport failures come back wrapped in ports.ErrUnavailable.
type Store struct {
	client  redis.UniversalClient
	opts    StoreOptions
	logger  *logrus.Logger
	breaker *gobreaker.CircuitBreaker

	available    atomic.Bool
	reconnecting atomic.Bool

	mu        sync.Mutex
	listeners []func(bool)

	done      chan struct{}
	closeOnce sync.Once
}

var _ ports.KVStore = (*Store)(nil)

// NewStore wraps client. The store reports unavailable until Connect succeeds.
func NewStore(client redis.UniversalClient, opts StoreOptions) *Store {
	opts.withDefaults()
	s := &Store{
		client: client,
		opts:   opts,
		logger: opts.Logger,
		done:   make(chan struct{}),
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Timeout:     opts.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		IsSuccessful: isBreakerSuccess,
		// Called with the breaker locked, so it must not run commands itself.
		OnStateChange: func(_ string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				s.setAvailable(false)
			case gobreaker.StateClosed:
				s.setAvailable(true)
			}
		},
	})
	return s
}

// Connect probes the store. On failure the store stays unavailable and a background
// reconnect loop is started; the error wraps ports.ErrUnavailable.
func (s *Store) Connect(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		s.setAvailable(false)
		s.startReconnect()
		return fmt.Errorf("connect redis: %w", err)
	}
	s.setAvailable(true)
	return nil
}

func (s *Store) IsAvailable() bool {
	return s.available.Load()
}

func (s *Store) OnAvailabilityChange(fn func(available bool)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) setAvailable(v bool) {
	if s.available.Swap(v) == v {
		return
	}
	if s.logger != nil {
		if v {
			s.logger.Info("redis store available")
		} else {
			s.logger.Warn("redis store unavailable, degrading to fail-open")
		}
	}
	s.mu.Lock()
	listeners := append([]func(bool){}, s.listeners...)
	s.mu.Unlock()
	go func() {
		for _, fn := range listeners {
			fn(v)
		}
	}()
	if !v {
		s.startReconnect()
	}
}

func (s *Store) startReconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go s.reconnectLoop()
}

func (s *Store) reconnectLoop() {
	defer s.reconnecting.Store(false)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectInitial
	b.Multiplier = 2
	b.MaxInterval = s.opts.ReconnectMaxBackoff
	b.Reset()

	for attempt := 1; ; attempt++ {
		if s.IsAvailable() {
			return
		}
		wait := b.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := s.Ping(context.Background()); err != nil {
			if s.logger != nil {
				s.logger.WithFields(logrus.Fields{"attempt": attempt, "next_wait": wait.String()}).WithError(err).Debug("redis reconnect failed")
			}
			continue
		}
		s.setAvailable(true)
		return
	}
}

// Close stops the reconnect loop and closes the client.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ports.ErrInvalidKey
	}
	var val []byte
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		val, err = s.client.Get(ctx, s.namespaced(key)).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// SetWithTTL stores value; a ttl of zero or less stores it without expiry.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ports.ErrInvalidKey
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.do(ctx, func(ctx context.Context) error {
		return s.client.Set(ctx, s.namespaced(key), value, ttl).Err()
	})
}

func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ns := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			return 0, ports.ErrInvalidKey
		}
		ns = append(ns, s.namespaced(k))
	}
	var n int64
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.client.Del(ctx, ns...).Result()
		return err
	})
	return n, err
}

// DeleteByPattern removes every key matching a glob pattern, scanning in batches.
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	err := s.scan(ctx, pattern, func(batch []string) error {
		return s.do(ctx, func(ctx context.Context) error {
			n, err := s.client.Del(ctx, batch...).Result()
			deleted += n
			return err
		})
	})
	return deleted, err
}

// ScanKeys lists keys matching pattern, without the adapter prefix.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := s.scan(ctx, pattern, func(batch []string) error {
		for _, k := range batch {
			keys = append(keys, s.stripPrefix(k))
		}
		return nil
	})
	return keys, err
}

// scan walks the keyspace with SCAN, one breaker-guarded round trip per batch.
func (s *Store) scan(ctx context.Context, pattern string, fn func(batch []string) error) error {
	if err := validatePattern(pattern); err != nil {
		return err
	}
	match := s.namespaced(pattern)
	var cursor uint64
	for {
		var batch []string
		err := s.do(ctx, func(ctx context.Context) error {
			var err error
			batch, cursor, err = s.client.Scan(ctx, cursor, match, scanBatch).Result()
			return err
		})
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			if err := fn(batch); err != nil {
				return err
			}
		}
		if cursor == 0 {
			return nil
		}
	}
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ports.ErrInvalidKey
	}
	var n int64
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.client.Exists(ctx, s.namespaced(key)).Result()
		return err
	})
	return n > 0, err
}

func (s *Store) Increment(ctx context.Context, key string) (int64, error) {
	return s.IncrementBy(ctx, key, 1)
}

func (s *Store) IncrementBy(ctx context.Context, key string, delta int64) (int64, error) {
	if key == "" {
		return 0, ports.ErrInvalidKey
	}
	var n int64
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.client.IncrBy(ctx, s.namespaced(key), delta).Result()
		return err
	})
	return n, err
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ports.ErrInvalidKey
	}
	var ok bool
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		ok, err = s.client.PExpire(ctx, s.namespaced(key), ttl).Result()
		return err
	})
	return ok, err
}

// TTL returns the remaining lifetime. It is negative when the key is missing (-2ns)
// or has no expiry (-1ns), following the store's convention.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, ports.ErrInvalidKey
	}
	var d time.Duration
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.client.PTTL(ctx, s.namespaced(key)).Result()
		return err
	})
	return d, err
}

func (s *Store) IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if key == "" {
		return 0, ports.ErrInvalidKey
	}
	if ttl < time.Millisecond {
		return 0, fmt.Errorf("increment window %q: ttl must be at least 1ms", key)
	}
	var n int64
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = incrementWindowScript.Run(ctx, s.client, []string{s.namespaced(key)}, ttl.Milliseconds()).Int64()
		return err
	})
	return n, err
}

func (s *Store) DecrementFloor(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ports.ErrInvalidKey
	}
	var n int64
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = decrementFloorScript.Run(ctx, s.client, []string{s.namespaced(key)}).Int64()
		return err
	})
	return n, err
}

// MultiExec runs ops inside MULTI/EXEC. A GET miss is reported as Found=false.
func (s *Store) MultiExec(ctx context.Context, ops []ports.Op) ([]ports.OpResult, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	for _, op := range ops {
		if op.Key == "" {
			return nil, ports.ErrInvalidKey
		}
		switch op.Kind {
		case ports.OpGet, ports.OpSet, ports.OpSetExisting, ports.OpDelete, ports.OpIncr, ports.OpExpire:
		default:
			return nil, fmt.Errorf("%w: unsupported op %q", ports.ErrInvalidKey, op.Kind)
		}
	}
	cmds := make([]redis.Cmder, len(ops))
	err := s.do(ctx, func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for i, op := range ops {
				key := s.namespaced(op.Key)
				switch op.Kind {
				case ports.OpGet:
					cmds[i] = p.Get(ctx, key)
				case ports.OpSet:
					ttl := op.TTL
					if ttl < 0 {
						ttl = 0
					}
					cmds[i] = p.Set(ctx, key, op.Value, ttl)
				case ports.OpSetExisting:
					ttl := op.TTL
					if ttl < 0 {
						ttl = 0
					}
					cmds[i] = p.SetXX(ctx, key, op.Value, ttl)
				case ports.OpDelete:
					cmds[i] = p.Del(ctx, key)
				case ports.OpIncr:
					cmds[i] = p.Incr(ctx, key)
				case ports.OpExpire:
					cmds[i] = p.PExpire(ctx, key, op.TTL)
				}
			}
			return nil
		})
		if !errors.Is(err, redis.Nil) {
			return err
		}
		// the reported error is only the first one; a miss must not hide a real failure
		for _, c := range cmds {
			if cerr := c.Err(); cerr != nil && !errors.Is(cerr, redis.Nil) {
				return cerr
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]ports.OpResult, len(ops))
	for i, cmd := range cmds {
		switch c := cmd.(type) {
		case *redis.StringCmd:
			if b, err := c.Bytes(); err == nil {
				results[i] = ports.OpResult{Value: b, Found: true, OK: true}
			}
		case *redis.StatusCmd:
			results[i] = ports.OpResult{OK: c.Err() == nil}
		case *redis.IntCmd:
			results[i] = ports.OpResult{Int: c.Val(), OK: c.Err() == nil && c.Val() > 0}
		case *redis.BoolCmd:
			results[i] = ports.OpResult{OK: c.Val()}
		}
	}
	return results, nil
}

// do runs fn under the command timeout and the breaker, and classifies its error.
func (s *Store) do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
	defer cancel()
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return classify(err)
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return redis.Nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: circuit open", ports.ErrUnavailable)
	case isReplyError(err):
		return err
	default:
		return fmt.Errorf("%w: %v", ports.ErrUnavailable, err)
	}
}

// isBreakerSuccess keeps misses and server replies such as WRONGTYPE from counting as
// connectivity failures.
func isBreakerSuccess(err error) bool {
	return err == nil || errors.Is(err, redis.Nil) || isReplyError(err)
}

func isReplyError(err error) bool {
	var re redis.Error
	return errors.As(err, &re)
}

func validatePattern(pattern string) error {
	p := strings.TrimSpace(pattern)
	if p == "" || strings.Trim(p, "*") == "" {
		return fmt.Errorf("%w: pattern %q must contain a literal prefix", ports.ErrInvalidKey, pattern)
	}
	return nil
}

func (s *Store) namespaced(key string) string {
	if s.opts.KeyPrefix == "" {
		return key
	}
	return s.opts.KeyPrefix + ":" + key
}

func (s *Store) stripPrefix(key string) string {
	if s.opts.KeyPrefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.opts.KeyPrefix+":")
}
