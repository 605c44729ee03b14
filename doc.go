// Package megacache implements a backend-agnostic cache with statistics and
// memoization helpers on top of a minimal byte Provider.
//
// Components:
//   - Provider: byte store with TTL (memory, bigcache, file, SQL, session,
//     Redis, memcached). See package provider.
//   - Codec: (de)serializes values <-> []byte. Msgpack by default.
//   - Registry: the set of keys written through the cache, persisted under the
//     reserved key "megacache-store" so Flush works on backends that cannot
//     enumerate keys.
//
// Keys:
//
//	<cacheName>:<key>                    - entries
//	<cacheName>:function-<sha256>        - Call results
//	<cacheName>:resource-<sha256>        - Fetch results
//	<cacheName>:fragment-<name>          - captured output fragments
//	<cacheName>:megacache-store          - key registry (reserved)
//	<cacheName>:megacache-globalstats    - cumulative statistics (reserved)
//
// A Cache is one session: open it per request or job, and Close it at the end.
// Close persists the registry and the cumulative statistics; a process that
// dies before Close loses that session's registry additions and counters, but
// not the cached values themselves.
//
//	c, err := megacache.New(ctx, megacache.Options{Namespace: "app", Provider: p})
//	defer c.Close(ctx)
//
//	_ = c.Set(ctx, "answer", 42, 0)           // 0 => no expiry
//	var v int
//	found, err := c.Get(ctx, "answer", &v)   // found distinguishes a stored 0 from a miss
//
// Concurrency: processes sharing one namespace race on the registry and the
// global statistics (load, mutate, save). Use registry.Redis or one namespace
// per process when that matters. Increment/Decrement are atomic only when the
// provider implements provider.Counter.
package megacache
