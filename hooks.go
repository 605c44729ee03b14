package megacache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "expired"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// The persisted key registry could not be decoded and was reset to empty.
	// Keys it listed can no longer be flushed.
	RegistryReset(namespace string, err error)

	// End-of-session persistence failed. what ∈ {"registry", "globalstats"}
	PersistFailed(namespace, what string, err error)

	// Increment/Decrement ran the non-atomic read-modify-write path.
	NonAtomicCounter(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)             {}
func (NopHooks) ProviderSetRejected(string)          {}
func (NopHooks) RegistryReset(string, error)         {}
func (NopHooks) PersistFailed(string, string, error) {}
func (NopHooks) NonAtomicCounter(string)             {}
