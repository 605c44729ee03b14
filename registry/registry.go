// Package registry tracks every key a megacache instance has written, so that
// Flush can delete them on backends without key enumeration.
//
// Use Local (default) for a registry persisted as one value in the provider, or
// Redis for a native Redis set shared safely between processes.
package registry

import "context"

// Registry abstracts where the key set lives. Keys are caller keys (without
// the namespace prefix).
type Registry interface {
	// Load reads the persisted set. A missing or unreadable set yields an empty
	// registry; the returned error is non-nil only for IO failures.
	Load(ctx context.Context) error
	Add(ctx context.Context, key string) error
	Remove(ctx context.Context, key string) error
	// Keys returns a snapshot in unspecified order.
	Keys(ctx context.Context) ([]string, error)
	// Reset empties the set.
	Reset(ctx context.Context) error
	// Persist writes buffered changes back (end of session). No-op for
	// registries that write through.
	Persist(ctx context.Context) error
}
