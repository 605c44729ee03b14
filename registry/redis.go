package registry

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the key set in a native Redis SET. Every Add/Remove is a
// round-trip (SADD/SREM) but concurrent processes never lose each other's keys.
type Redis struct {
	rdb redis.UniversalClient
	key string
}

var _ Registry = (*Redis)(nil)

// NewRedis stores the set under setKey, e.g. "<cacheName>:megacache-store".
// It must not share a key with a value written through a Provider.
func NewRedis(client redis.UniversalClient, setKey string) *Redis {
	return &Redis{rdb: client, key: setKey}
}

// Load only verifies that the key holds a set (or nothing).
func (r *Redis) Load(ctx context.Context) error {
	return r.rdb.SCard(ctx, r.key).Err()
}

func (r *Redis) Add(ctx context.Context, key string) error {
	return r.rdb.SAdd(ctx, r.key, key).Err()
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	return r.rdb.SRem(ctx, r.key, key).Err()
}

func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	return r.rdb.SMembers(ctx, r.key).Result()
}

func (r *Redis) Reset(ctx context.Context) error {
	return r.rdb.Del(ctx, r.key).Err()
}

// Persist is a no-op; the set is written through.
func (r *Redis) Persist(context.Context) error { return nil }
