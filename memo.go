package megacache

import (
	"context"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/megacache/codec"
	"github.com/unkn0wn-root/megacache/internal/util"
)

// signature inputs must encode identically for equal arguments regardless of
// map iteration order
var sigCodec = c.MustCBOR(true)

// internal values (fetched documents, fragments) use msgpack whatever the
// user codec is
var bytesCodec c.Codec = c.Msgpack{}

// Func is a function whose results can be memoized by Call.
type Func[R any] func(ctx context.Context, args ...any) (R, error)

// Call returns the cached result of fn(args...) or runs fn and caches what it
// returns for ttl. The cache key is a SHA-256 over the deterministic CBOR
// encoding of name and args, so name must identify fn and fn must be a pure
// function of args. Errors from fn are returned and never cached.
//
// A cache write failure after fn succeeded is returned together with the
// valid result.
func Call[R any](ctx context.Context, cc *Cache, name string, args []any, ttl time.Duration, fn Func[R]) (R, error) {
	var zero R
	sig, err := CallSignature(name, args)
	if err != nil {
		return zero, err
	}

	var r R
	found, err := cc.Get(ctx, sig, &r)
	if err != nil {
		return zero, err
	}
	if found {
		return r, nil
	}

	r, err = fn(ctx, args...)
	if err != nil {
		return zero, err
	}
	return r, cc.Set(ctx, sig, r, ttl)
}

// Wrap returns fn memoized through cc under name.
func Wrap[R any](cc *Cache, name string, ttl time.Duration, fn Func[R]) Func[R] {
	return func(ctx context.Context, args ...any) (R, error) {
		return Call(ctx, cc, name, args, ttl, fn)
	}
}

// CallSignature returns the cache key Call uses for name and args.
func CallSignature(name string, args []any) (string, error) {
	b, err := sigCodec.Marshal([]any{name, args})
	if err != nil {
		return "", fmt.Errorf("megacache: call signature for %q: %w", name, err)
	}
	return util.Signature("function", b), nil
}

// ResourceSignature returns the cache key Fetch uses for resource.
func ResourceSignature(resource string) string {
	return util.Signature("resource", []byte(resource))
}

// Fetch returns the cached content of resource (a URL or a local path) or
// retrieves it through the configured Fetcher and caches it for ttl.
// Retrieval failures are returned as *FetchError and not cached, so the next
// call retries. Empty content is returned but not cached either.
func (cc *Cache) Fetch(ctx context.Context, resource string, ttl time.Duration) ([]byte, error) {
	if cc.closed.Load() {
		return nil, ErrClosed
	}
	sig := ResourceSignature(resource)

	var content []byte
	found, err := cc.get(ctx, sig, &content, bytesCodec)
	if err != nil {
		return nil, err
	}
	if found {
		return content, nil
	}

	content, err = cc.fetcher.Fetch(ctx, resource)
	if err != nil {
		return nil, &FetchError{Resource: resource, Err: err}
	}
	if len(content) == 0 {
		return content, nil
	}
	return content, cc.set(ctx, sig, content, ttl, bytesCodec)
}
