// Package backend builds a megacache.Cache from a config.Config by backend
// name. The built-in backends register themselves; others can be added with
// Register.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/unkn0wn-root/megacache"
	"github.com/unkn0wn-root/megacache/codec"
	"github.com/unkn0wn-root/megacache/config"
	"github.com/unkn0wn-root/megacache/fetch"
	pr "github.com/unkn0wn-root/megacache/provider"
	"github.com/unkn0wn-root/megacache/registry"
)

var ErrUnknownBackend = errors.New("backend: unknown backend")

// Storage is what a Factory builds. Registry is optional; nil keeps the
// default registry persisted in Provider.
type Storage struct {
	Provider pr.Provider
	Registry registry.Registry
}

// Factory opens the storage for cfg. It must fail when the backend is
// unreachable.
type Factory func(ctx context.Context, cfg *config.Config) (Storage, error)

var (
	factories   = make(map[string]Factory)
	factoriesMu sync.RWMutex
)

// Register makes a backend available under name, replacing any earlier
// registration.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Names returns the registered backend names, sorted.
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// OpenStorage resolves cfg.Backend and opens its storage.
func OpenStorage(ctx context.Context, cfg *config.Config) (Storage, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Backend]
	factoriesMu.RUnlock()
	if !ok {
		return Storage{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownBackend, cfg.Backend, Names())
	}
	st, err := f(ctx, cfg)
	if err != nil {
		return Storage{}, fmt.Errorf("backend %s: %w", cfg.Backend, err)
	}
	return st, nil
}

// Open builds a Cache for cfg. Fields already set in base (Logger, Hooks,
// Output, a custom Codec or Fetcher) are kept; Namespace and Provider always
// come from cfg.
func Open(ctx context.Context, cfg *config.Config, base megacache.Options) (*megacache.Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st, err := OpenStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := base
	opts.Namespace = cfg.CacheName
	opts.Provider = st.Provider
	if opts.Registry == nil {
		opts.Registry = st.Registry
	}
	if opts.Codec == nil {
		cd, err := codec.ByName(cfg.Codec)
		if err != nil {
			_ = st.Provider.Close(ctx)
			return nil, err
		}
		opts.Codec = cd
	}
	if opts.Fetcher == nil {
		opts.Fetcher = fetch.New(fetch.Config{
			RetryMax:     cfg.Fetch.RetryMax,
			Timeout:      cfg.Fetch.Timeout,
			MaxBytes:     cfg.Fetch.MaxBytes,
			DisableFiles: cfg.Fetch.DisableFiles,
		})
	}

	cc, err := megacache.New(ctx, opts)
	if err != nil {
		_ = st.Provider.Close(ctx)
		return nil, err
	}
	return cc, nil
}
