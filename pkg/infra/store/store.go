package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("store: key not found")
	// ErrUnavailable is returned when the backend is unreachable or the
	// circuit breaker is open. Callers degrade to fail-open on it.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the counter-store contract the engine requires. Any key-value
// technology with atomic counters and TTL semantics can implement it.
//
//go:generate mockery --name=Store --dir=. --output=./mocks --filename=store_mock.go --case=underscore --with-expecter
type Store interface {
	// Incr atomically increments the integer at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the key's TTL. Returns false if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set writes value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Keys lists keys matching a glob pattern. Administrative use only,
	// never on the hot path.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Ping checks backend health.
	Ping(ctx context.Context) error
}
