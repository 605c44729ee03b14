// Package provider defines the storage abstraction used by megacache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key. The one exception is
// a native counter (see Counter): its value is the backend's own decimal form.
//
// Important: keys of the form "<cacheName>:<key>" are owned by megacache.
// External code MUST NOT write values under a cache's prefix. Foreign writes are
// treated as corruption and deleted on read.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrSetRejected reports a Set that returned ok=false for a value that must
// not be silently dropped.
var ErrSetRejected = errors.New("provider: write rejected")

// Provider is a minimal byte store with TTLs.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// Expired entries are misses. If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL, overwriting any existing entry.
	// ttl <= 0 means "no expiry requested": stores with a native notion of
	// "never" use it; others may store a far-future expiry.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Del removes a key and reports whether it existed.
	Del(ctx context.Context, key string) (existed bool, err error)

	// Close releases resources.
	Close(ctx context.Context) error
}

// Counter is implemented by providers with a native atomic increment
// (Redis INCRBY, memcached incr/decr). Its presence is the
// "supports atomic counters" capability flag: megacache uses it instead of its
// non-atomic read-modify-write fallback.
//
// A missing key starts at 0. Values are stored as ASCII decimals.
type Counter interface {
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
}

// SupportsAtomicCounters reports whether p exposes a native Counter.
func SupportsAtomicCounters(p Provider) bool {
	_, ok := p.(Counter)
	return ok
}

// FarFuture is the expiry span used for "no expiry" by stores that need an
// absolute deadline.
const FarFuture = 10 * 365 * 24 * time.Hour

// Deadline converts a provider TTL to an absolute deadline.
func Deadline(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return now.Add(FarFuture)
	}
	return now.Add(ttl)
}
