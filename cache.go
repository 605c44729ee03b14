package megacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	c "github.com/unkn0wn-root/megacache/codec"
	"github.com/unkn0wn-root/megacache/fetch"
	"github.com/unkn0wn-root/megacache/internal/wire"
	pr "github.com/unkn0wn-root/megacache/provider"
	"github.com/unkn0wn-root/megacache/registry"
)

// Cache is one cache session over a Provider. It is safe for concurrent use,
// though it is meant to live for a single request or job.
type Cache struct {
	ns       string
	provider pr.Provider
	counter  pr.Counter // nil => non-atomic read-modify-write counters
	codec    c.Codec
	registry registry.Registry
	log      Logger
	hooks    Hooks
	fetcher  Fetcher
	out      io.Writer
	now      func() time.Time

	stats counters

	fragMu  sync.Mutex
	pending *pendingFragment

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New opens a cache session and loads the key registry.
func New(ctx context.Context, opts Options) (*Cache, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("megacache: provider is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("megacache: namespace is required")
	}
	if strings.Contains(opts.Namespace, ":") {
		return nil, fmt.Errorf("megacache: namespace %q must not contain ':'", opts.Namespace)
	}

	cc := &Cache{
		ns:       opts.Namespace,
		provider: opts.Provider,
		out:      opts.Output,
		now:      opts.Now,
	}
	cc.counter, _ = opts.Provider.(pr.Counter)

	cc.codec = coalesce[c.Codec](opts.Codec, c.Msgpack{})
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if opts.Fetcher != nil {
		cc.fetcher = opts.Fetcher
	} else {
		cc.fetcher = fetch.New(fetch.Config{RetryMax: 2})
	}
	if cc.out == nil {
		cc.out = os.Stdout
	}
	if cc.now == nil {
		cc.now = time.Now
	}

	if opts.Registry != nil {
		cc.registry = opts.Registry
	} else {
		local := registry.NewLocal(opts.Provider, cc.storageKey(StoreKey))
		local.OnReset = func(err error) {
			cc.log.Warn("key registry unreadable; starting empty", Fields{"ns": cc.ns, "err": err})
			cc.hooks.RegistryReset(cc.ns, err)
		}
		cc.registry = local
	}
	if err := cc.registry.Load(ctx); err != nil {
		return nil, fmt.Errorf("megacache: load registry: %w", err)
	}
	return cc, nil
}

// Namespace returns the cache name.
func (cc *Cache) Namespace() string { return cc.ns }

// AtomicCounters reports whether Increment/Decrement use a native atomic
// primitive of the provider.
func (cc *Cache) AtomicCounters() bool { return cc.counter != nil }

// Get decodes the entry stored under key into dst (a pointer; nil only checks
// presence). found is false for a miss, which is not an error. Every call that
// reaches the provider counts one get and one hit or miss, except when the
// stored value does not decode into dst: that returns an error and counts
// nothing.
func (cc *Cache) Get(ctx context.Context, key string, dst any) (found bool, err error) {
	if err := cc.checkKey(key); err != nil {
		return false, err
	}
	return cc.get(ctx, key, dst, cc.codec)
}

// Set stores value under key. ttl <= 0 means no expiry (a far-future deadline
// for backends without a native "never").
func (cc *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := cc.checkKey(key); err != nil {
		return err
	}
	return cc.set(ctx, key, value, ttl, cc.codec)
}

// Delete removes key and reports whether it existed.
func (cc *Cache) Delete(ctx context.Context, key string) (bool, error) {
	if err := cc.checkKey(key); err != nil {
		return false, err
	}
	existed, err := cc.provider.Del(ctx, cc.storageKey(key))
	if err != nil {
		return false, err
	}
	if err := cc.registry.Remove(ctx, key); err != nil {
		return existed, err
	}
	cc.stats.deletes.Add(1)
	return existed, nil
}

// Increment adds by to the integer under key and returns the new value.
// A missing key counts as 0.
//
// When the provider implements provider.Counter this is a single atomic
// backend operation. Otherwise it is a read-modify-write that is NOT safe
// against other processes updating the same key concurrently.
func (cc *Cache) Increment(ctx context.Context, key string, by int64) (int64, error) {
	n, err := cc.add(ctx, key, by)
	if err == nil {
		cc.stats.increments.Add(1)
	}
	return n, err
}

// Decrement subtracts by from the integer under key. See Increment.
func (cc *Cache) Decrement(ctx context.Context, key string, by int64) (int64, error) {
	n, err := cc.add(ctx, key, -by)
	if err == nil {
		cc.stats.decrements.Add(1)
	}
	return n, err
}

// Flush deletes every key this cache (and earlier sessions on the same
// namespace) recorded in the registry, then empties the registry. Its cost is
// linear in the number of keys ever written, not in the number still alive.
// Keys that fail to delete stay registered and the errors are joined.
func (cc *Cache) Flush(ctx context.Context) error {
	if cc.closed.Load() {
		return ErrClosed
	}
	keys, err := cc.registry.Keys(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, k := range keys {
		if isReserved(k) {
			continue
		}
		if _, err := cc.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("flush %q: %w", k, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if err := cc.registry.Reset(ctx); err != nil {
		return err
	}
	cc.log.Debug("flushed namespace", Fields{"ns": cc.ns, "keys": len(keys)})
	return nil
}

// Close ends the session: it emits any still-pending fragment, persists the key
// registry and the merged global statistics, then closes the provider.
// Only the first call does work; later calls return the same result.
func (cc *Cache) Close(ctx context.Context) error {
	cc.closeOnce.Do(func() {
		cc.closed.Store(true)
		cc.abandonFragment()

		ce := &CloseError{}
		if err := cc.registry.Persist(ctx); err != nil {
			ce.RegistryErr = err
			cc.log.Error("persist key registry failed", Fields{"ns": cc.ns, "err": err})
			cc.hooks.PersistFailed(cc.ns, "registry", err)
		}
		if err := cc.persistGlobalStats(ctx); err != nil {
			ce.StatsErr = err
			cc.log.Error("persist global stats failed", Fields{"ns": cc.ns, "err": err})
			cc.hooks.PersistFailed(cc.ns, "globalstats", err)
		}
		if err := cc.provider.Close(ctx); err != nil {
			ce.ProviderErr = err
		}
		if len(ce.Unwrap()) > 0 {
			cc.closeErr = ce
		}
	})
	return cc.closeErr
}

func (cc *Cache) get(ctx context.Context, key string, dst any, cd c.Codec) (bool, error) {
	sk := cc.storageKey(key)
	raw, ok, err := cc.provider.Get(ctx, sk)
	if err != nil {
		return false, err
	}
	if ok {
		ok, err = cc.decode(ctx, sk, raw, dst, cd)
	}
	if err != nil {
		// stored but undecodable into dst: neither hit nor miss
		return false, err
	}
	cc.stats.gets.Add(1)
	if ok {
		cc.stats.hits.Add(1)
	} else {
		cc.stats.misses.Add(1)
	}
	return ok, nil
}

// decode unwraps raw into dst. Corrupt and expired entries are deleted and
// reported as a miss.
func (cc *Cache) decode(ctx context.Context, sk string, raw []byte, dst any, cd c.Codec) (bool, error) {
	if !wire.IsEntry(raw) {
		if n, ok := wire.DecodeCounter(raw); ok {
			if dst == nil {
				return true, nil
			}
			return true, assignInt(n, dst, cd)
		}
		cc.selfHeal(ctx, sk, "corrupt")
		return false, nil
	}
	exp, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		cc.selfHeal(ctx, sk, "corrupt")
		return false, nil
	}
	if !exp.After(cc.now()) {
		cc.selfHeal(ctx, sk, "expired")
		return false, nil
	}
	if dst == nil {
		return true, nil
	}
	if err := cd.Unmarshal(payload, dst); err != nil {
		return true, fmt.Errorf("megacache: decode %q: %w", sk, err)
	}
	return true, nil
}

func (cc *Cache) selfHeal(ctx context.Context, sk, reason string) {
	_, _ = cc.provider.Del(ctx, sk)
	cc.log.Debug("dropped unreadable entry", Fields{"key": sk, "reason": reason})
	cc.hooks.SelfHeal(sk, reason)
}

func (cc *Cache) set(ctx context.Context, key string, value any, ttl time.Duration, cd c.Codec) error {
	sk := cc.storageKey(key)

	var raw []byte
	if cc.counter != nil {
		// native counters only increment their own decimal form
		if n, ok := asInt64(value); ok {
			raw = wire.EncodeCounter(n)
		}
	}
	if raw == nil {
		payload, err := cd.Marshal(value)
		if err != nil {
			return fmt.Errorf("megacache: encode %q: %w", key, err)
		}
		raw = wire.EncodeEntry(cc.expiry(ttl), payload)
	}

	ok, err := cc.provider.Set(ctx, sk, raw, ttl)
	if err != nil {
		return err
	}
	if !ok {
		cc.log.Debug("set rejected by provider (pressure)", Fields{"key": key})
		cc.hooks.ProviderSetRejected(sk)
	}
	if err := cc.registry.Add(ctx, key); err != nil {
		return err
	}
	cc.stats.sets.Add(1)
	return nil
}

func (cc *Cache) add(ctx context.Context, key string, delta int64) (int64, error) {
	if err := cc.checkKey(key); err != nil {
		return 0, err
	}
	sk := cc.storageKey(key)

	if cc.counter != nil {
		n, err := cc.counter.IncrBy(ctx, sk, delta)
		if err != nil {
			return 0, err
		}
		return n, cc.registry.Add(ctx, key)
	}

	cc.hooks.NonAtomicCounter(sk)

	// read-modify-write; keeps the remaining TTL of a live entry
	var cur int64
	exp := cc.expiry(0)
	raw, ok, err := cc.provider.Get(ctx, sk)
	if err != nil {
		return 0, err
	}
	if ok {
		if n, isCounter := wire.DecodeCounter(raw); isCounter && !wire.IsEntry(raw) {
			cur = n
		} else if e, payload, derr := wire.DecodeEntry(raw); derr == nil && e.After(cc.now()) {
			if err := cc.codec.Unmarshal(payload, &cur); err != nil {
				return 0, fmt.Errorf("%w: %q: %v", ErrNotInteger, key, err)
			}
			exp = e
		}
	}

	next := cur + delta
	payload, err := cc.codec.Marshal(next)
	if err != nil {
		return 0, fmt.Errorf("megacache: encode %q: %w", key, err)
	}
	if _, err := cc.provider.Set(ctx, sk, wire.EncodeEntry(exp, payload), exp.Sub(cc.now())); err != nil {
		return 0, err
	}
	if err := cc.registry.Add(ctx, key); err != nil {
		return 0, err
	}
	return next, nil
}

func (cc *Cache) expiry(ttl time.Duration) time.Time {
	return pr.Deadline(cc.now(), ttl)
}

func (cc *Cache) storageKey(key string) string {
	// isolate by namespace
	return cc.ns + ":" + key
}

func (cc *Cache) checkKey(key string) error {
	if cc.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	if isReserved(key) {
		return fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	return nil
}

// isReserved covers StoreKey, GlobalStatsKey and anything else under the
// "megacache-" prefix, such as the shared Redis registry set.
func isReserved(key string) bool {
	return strings.HasPrefix(key, ReservedPrefix)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

// assignInt stores a native counter value into dst. Integer pointers are
// filled directly; anything else goes through the codec.
func assignInt(n int64, dst any, cd c.Codec) error {
	switch d := dst.(type) {
	case *int64:
		*d = n
	case *int:
		*d = int(n)
	case *int32:
		*d = int32(n)
	case *uint64:
		*d = uint64(n)
	case *float64:
		*d = float64(n)
	case *any:
		*d = n
	default:
		b, err := cd.Marshal(n)
		if err != nil {
			return err
		}
		return cd.Unmarshal(b, dst)
	}
	return nil
}
