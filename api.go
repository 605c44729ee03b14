package megacache

import (
	"context"
	"io"
	"time"

	c "github.com/unkn0wn-root/megacache/codec"
	pr "github.com/unkn0wn-root/megacache/provider"
	"github.com/unkn0wn-root/megacache/registry"
)

// Reserved keys, relative to the namespace. Callers cannot read or write any
// key starting with ReservedPrefix and Flush never deletes them.
const (
	ReservedPrefix = "megacache-"
	StoreKey       = ReservedPrefix + "store"
	GlobalStatsKey = ReservedPrefix + "globalstats"
)

// Fetcher retrieves an external resource for Fetch. fetch.Client is the
// default implementation.
type Fetcher interface {
	Fetch(ctx context.Context, resource string) ([]byte, error)
}

// Options configures a Cache.
// Only Namespace and Provider are required; others have sensible defaults.
type Options struct {
	// Required
	Namespace string // cache name; prefixes every storage key, must not contain ':'
	Provider  pr.Provider

	Codec    c.Codec           // nil => Msgpack
	Registry registry.Registry // nil => registry.Local persisted in Provider
	Logger   Logger            // nil => NopLogger
	Hooks    Hooks             // nil => NopHooks
	Fetcher  Fetcher           // nil => fetch.New(fetch.Config{RetryMax: 2})
	Output   io.Writer         // fragment destination; nil => os.Stdout
	Now      func() time.Time  // nil => time.Now
}
