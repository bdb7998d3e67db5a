package ports

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the store could not serve the command: connection down,
	// command timeout, or the circuit breaker is open. Callers choose their degraded path.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvalidKey is a contract error for an empty key or pattern.
	ErrInvalidKey = errors.New("invalid key")
)

// OpKind is a command inside an atomic batch.
type OpKind string

const (
	OpGet OpKind = "GET"
	OpSet OpKind = "SET"
	// OpSetExisting writes only over a key that still exists; OK is false otherwise.
	OpSetExisting OpKind = "SETXX"
	OpDelete      OpKind = "DEL"
	OpIncr        OpKind = "INCR"
	OpExpire      OpKind = "EXPIRE"
)

// Op is one command of a MultiExec batch.
type Op struct {
	Kind  OpKind
	Key   string
	Value []byte
	TTL   time.Duration
}

// OpResult mirrors the Op at the same index.
type OpResult struct {
	Value []byte
	Found bool
	Int   int64
	OK    bool
}

// KVStore is the key-value store every other component shares. All methods must be
// safe for concurrent use and must return an error wrapping ErrUnavailable, never
// block beyond the command timeout, when the store cannot be reached.
type KVStore interface {
	Connect(ctx context.Context) error
	IsAvailable() bool
	// OnAvailabilityChange registers fn to be called on every availability transition.
	OnAvailabilityChange(fn func(available bool))

	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Increment(ctx context.Context, key string) (int64, error)
	IncrementBy(ctx context.Context, key string, delta int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	// IncrementWindow increments key and sets ttl only when the result is 1, atomically.
	IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// DecrementFloor decrements key if it exists and is positive. Returns the new value.
	DecrementFloor(ctx context.Context, key string) (int64, error)
	// MultiExec runs ops as one MULTI/EXEC transaction.
	MultiExec(ctx context.Context, ops []Op) ([]OpResult, error)

	Ping(ctx context.Context) error
	Close() error
}
