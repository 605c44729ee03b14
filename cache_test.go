package megacache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/unkn0wn-root/megacache/internal/wire"
	pr "github.com/unkn0wn-root/megacache/provider"
)

// memProvider ignores ttl so expiry is enforced by the entry envelope alone.
type memProvider struct {
	mu sync.Mutex
	m  map[string][]byte

	failGet, failSet, failDel error
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failGet != nil {
		return nil, false, p.failGet
	}
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSet != nil {
		return false, p.failSet
	}
	p.m[key] = append([]byte(nil), value...)
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failDel != nil {
		return false, p.failDel
	}
	_, ok := p.m[key]
	delete(p.m, key)
	return ok, nil
}

func (p *memProvider) Close(context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

// counterProvider adds a native INCRBY over decimal values.
type counterProvider struct{ *memProvider }

var _ pr.Counter = counterProvider{}

func (p counterProvider) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var cur int64
	if raw, ok := p.m[key]; ok {
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", raw)
		}
		cur = n
	}
	cur += delta
	p.m[key] = []byte(strconv.FormatInt(cur, 10))
	return cur, nil
}

type fakeClock struct{ t time.Time }

func newClock() *fakeClock                   { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }
func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeFetcher struct {
	calls   int
	content map[string][]byte
	err     error
}

func (f *fakeFetcher) Fetch(_ context.Context, resource string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.content[resource], nil
}

type recordingHooks struct {
	NopHooks
	mu       sync.Mutex
	healed   []string
	nonAtom  int
	persists []string
}

func (h *recordingHooks) SelfHeal(sk, reason string) {
	h.mu.Lock()
	h.healed = append(h.healed, sk+"/"+reason)
	h.mu.Unlock()
}

func (h *recordingHooks) NonAtomicCounter(string) {
	h.mu.Lock()
	h.nonAtom++
	h.mu.Unlock()
}

func (h *recordingHooks) PersistFailed(_, what string, _ error) {
	h.mu.Lock()
	h.persists = append(h.persists, what)
	h.mu.Unlock()
}

type testEnv struct {
	cc    *Cache
	mp    *memProvider
	clock *fakeClock
	out   *bytes.Buffer
	fetch *fakeFetcher
	hooks *recordingHooks
}

func newTestCache(t *testing.T, p pr.Provider, mp *memProvider, opt func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		mp:    mp,
		clock: newClock(),
		out:   &bytes.Buffer{},
		fetch: &fakeFetcher{content: map[string][]byte{}},
		hooks: &recordingHooks{},
	}
	opts := Options{
		Namespace: "test",
		Provider:  p,
		Output:    env.out,
		Now:       env.clock.Now,
		Fetcher:   env.fetch,
		Hooks:     env.hooks,
	}
	if opt != nil {
		opt(&opts)
	}
	cc, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.cc = cc
	return env
}

func newMemCache(t *testing.T) *testEnv {
	mp := newMemProvider()
	return newTestCache(t, mp, mp, nil)
}

func TestNewRequiresProviderAndNamespace(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Options{Namespace: "x"}); err == nil {
		t.Fatalf("expected error without provider")
	}
	if _, err := New(ctx, Options{Provider: newMemProvider()}); err == nil {
		t.Fatalf("expected error without namespace")
	}
}

// TestBasicScenario: set a=42, read it, add 8, delete, read the miss.
func TestBasicScenario(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	cc := env.cc

	if err := cc.Set(ctx, "a", 42, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var v int
	if ok, err := cc.Get(ctx, "a", &v); err != nil || !ok || v != 42 {
		t.Fatalf("Get a: ok=%v err=%v v=%d", ok, err, v)
	}
	n, err := cc.Increment(ctx, "a", 8)
	if err != nil || n != 50 {
		t.Fatalf("Increment: n=%d err=%v", n, err)
	}
	if existed, err := cc.Delete(ctx, "a"); err != nil || !existed {
		t.Fatalf("Delete: existed=%v err=%v", existed, err)
	}
	if ok, err := cc.Get(ctx, "a", &v); err != nil || ok {
		t.Fatalf("Get after delete: ok=%v err=%v", ok, err)
	}

	want := Stats{Hits: 1, Misses: 1, Sets: 1, Gets: 2, Deletes: 1, Increments: 1}
	if diff := cmp.Diff(want, cc.SessionStats()); diff != "" {
		t.Fatalf("session stats (-want +got):\n%s", diff)
	}
	if env.hooks.nonAtom != 1 {
		t.Fatalf("expected one non-atomic counter event, got %d", env.hooks.nonAtom)
	}
}

func TestStructRoundTrip(t *testing.T) {
	type user struct {
		ID   string
		Tags []string
	}
	ctx := context.Background()
	cc := newMemCache(t).cc

	in := user{ID: "1", Tags: []string{"x", "y"}}
	if err := cc.Set(ctx, "u:1", in, time.Minute); err != nil {
		t.Fatal(err)
	}
	var out user
	if ok, err := cc.Get(ctx, "u:1", &out); err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
}

func TestStoredZeroIsAHit(t *testing.T) {
	ctx := context.Background()
	cc := newMemCache(t).cc

	if err := cc.Set(ctx, "zero", 0, 0); err != nil {
		t.Fatal(err)
	}
	v := -1
	if ok, err := cc.Get(ctx, "zero", &v); err != nil || !ok || v != 0 {
		t.Fatalf("stored zero: ok=%v err=%v v=%d", ok, err, v)
	}
	if ok, err := cc.Get(ctx, "absent", &v); err != nil || ok {
		t.Fatalf("absent key: ok=%v err=%v", ok, err)
	}
	if ok, err := cc.Get(ctx, "zero", nil); err != nil || !ok {
		t.Fatalf("presence check: ok=%v err=%v", ok, err)
	}
}

func TestTTLExpiryDeletesOnRead(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	cc := env.cc

	if err := cc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(59 * time.Second)
	if ok, _ := cc.Get(ctx, "k", nil); !ok {
		t.Fatalf("entry should still be live")
	}
	env.clock.Advance(2 * time.Second)
	if ok, err := cc.Get(ctx, "k", nil); err != nil || ok {
		t.Fatalf("expected expired miss, ok=%v err=%v", ok, err)
	}
	if env.mp.has("test:k") {
		t.Fatalf("expired entry should have been removed from the provider")
	}
	if diff := cmp.Diff([]string{"test:k/expired"}, env.hooks.healed); diff != "" {
		t.Fatalf("self-heal events (-want +got):\n%s", diff)
	}
}

func TestNoTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	if err := env.cc.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(5 * 365 * 24 * time.Hour)
	if ok, _ := env.cc.Get(ctx, "k", nil); !ok {
		t.Fatalf("entry without ttl expired")
	}
}

func TestCorruptEntrySelfHeals(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	env.mp.m["test:bad"] = []byte("garbage!")

	if ok, err := env.cc.Get(ctx, "bad", nil); err != nil || ok {
		t.Fatalf("corrupt entry: ok=%v err=%v", ok, err)
	}
	if env.mp.has("test:bad") {
		t.Fatalf("corrupt entry not deleted")
	}
	if got := env.cc.SessionStats(); got.Misses != 1 || got.Gets != 1 {
		t.Fatalf("corrupt entry should count as a miss: %+v", got)
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	ctx := context.Background()
	cc := newMemCache(t).cc

	if existed, err := cc.Delete(ctx, "nope"); err != nil || existed {
		t.Fatalf("Delete absent: existed=%v err=%v", existed, err)
	}
	_ = cc.Set(ctx, "k", 1, 0)
	if existed, err := cc.Delete(ctx, "k"); err != nil || !existed {
		t.Fatalf("Delete present: existed=%v err=%v", existed, err)
	}
	if got := cc.SessionStats().Deletes; got != 2 {
		t.Fatalf("deletes = %d, want 2", got)
	}
}

func TestReservedAndEmptyKeys(t *testing.T) {
	ctx := context.Background()
	cc := newMemCache(t).cc

	for _, k := range []string{StoreKey, GlobalStatsKey, "megacache-store:set"} {
		if _, err := cc.Get(ctx, k, nil); !errors.Is(err, ErrReservedKey) {
			t.Fatalf("Get %s: %v", k, err)
		}
		if err := cc.Set(ctx, k, 1, 0); !errors.Is(err, ErrReservedKey) {
			t.Fatalf("Set %s: %v", k, err)
		}
		if _, err := cc.Delete(ctx, k); !errors.Is(err, ErrReservedKey) {
			t.Fatalf("Delete %s: %v", k, err)
		}
		if _, err := cc.Increment(ctx, k, 1); !errors.Is(err, ErrReservedKey) {
			t.Fatalf("Increment %s: %v", k, err)
		}
	}
	if err := cc.Set(ctx, "", 1, 0); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Set empty key: %v", err)
	}
	if cc.SessionStats() != (Stats{}) {
		t.Fatalf("rejected calls must not count: %+v", cc.SessionStats())
	}
}

func TestFaultedOperationsDoNotCount(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	cc := env.cc
	boom := errors.New("boom")

	env.mp.failSet = boom
	if err := cc.Set(ctx, "k", 1, 0); !errors.Is(err, boom) {
		t.Fatalf("Set: %v", err)
	}
	env.mp.failGet = boom
	if _, err := cc.Get(ctx, "k", nil); !errors.Is(err, boom) {
		t.Fatalf("Get: %v", err)
	}
	if _, err := cc.Increment(ctx, "k", 1); !errors.Is(err, boom) {
		t.Fatalf("Increment: %v", err)
	}
	env.mp.failDel = boom
	if _, err := cc.Delete(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("Delete: %v", err)
	}
	if diff := cmp.Diff(Stats{}, cc.SessionStats()); diff != "" {
		t.Fatalf("faulted ops counted (-want +got):\n%s", diff)
	}
}

func TestDecrementAndMissingCounter(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	cc := env.cc

	if n, err := cc.Decrement(ctx, "c", 3); err != nil || n != -3 {
		t.Fatalf("Decrement missing: n=%d err=%v", n, err)
	}
	if n, err := cc.Increment(ctx, "c", 10); err != nil || n != 7 {
		t.Fatalf("Increment: n=%d err=%v", n, err)
	}
	var v int64
	if ok, err := cc.Get(ctx, "c", &v); err != nil || !ok || v != 7 {
		t.Fatalf("Get counter: ok=%v err=%v v=%d", ok, err, v)
	}
	want := Stats{Increments: 1, Decrements: 1, Gets: 1, Hits: 1}
	if diff := cmp.Diff(want, cc.SessionStats()); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}
}

func TestCounterKeepsRemainingTTL(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	cc := env.cc

	_ = cc.Set(ctx, "c", 1, time.Minute)
	env.clock.Advance(30 * time.Second)
	if _, err := cc.Increment(ctx, "c", 1); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(31 * time.Second)
	if ok, _ := cc.Get(ctx, "c", nil); ok {
		t.Fatalf("increment must not extend the entry's lifetime")
	}
}

func TestIncrementNonInteger(t *testing.T) {
	ctx := context.Background()
	cc := newMemCache(t).cc
	_ = cc.Set(ctx, "s", "text", 0)
	if _, err := cc.Increment(ctx, "s", 1); !errors.Is(err, ErrNotInteger) {
		t.Fatalf("expected ErrNotInteger, got %v", err)
	}
}

func TestNativeCounterPath(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	env := newTestCache(t, counterProvider{mp}, mp, nil)
	cc := env.cc

	if !cc.AtomicCounters() {
		t.Fatalf("expected atomic counters")
	}
	if err := cc.Set(ctx, "n", 5, 0); err != nil {
		t.Fatal(err)
	}
	if got := string(mp.m["test:n"]); got != "5" {
		t.Fatalf("integer stored as %q, want bare decimal", got)
	}
	if n, err := cc.Increment(ctx, "n", 3); err != nil || n != 8 {
		t.Fatalf("Increment: n=%d err=%v", n, err)
	}
	var v int
	if ok, err := cc.Get(ctx, "n", &v); err != nil || !ok || v != 8 {
		t.Fatalf("Get: ok=%v err=%v v=%d", ok, err, v)
	}
	if env.hooks.nonAtom != 0 {
		t.Fatalf("native path reported as non-atomic")
	}
	// non-integers still use the envelope
	_ = cc.Set(ctx, "s", "x", 0)
	if !wire.IsEntry(mp.m["test:s"]) {
		t.Fatalf("string value not wrapped in an entry")
	}
}

func TestFlushKeepsReservedKeys(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()

	first := newTestCache(t, mp, mp, nil).cc
	_ = first.Set(ctx, "old", 1, 0)
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cc := newTestCache(t, mp, mp, nil).cc
	_ = cc.Set(ctx, "new", 2, 0)
	if err := cc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for _, k := range []string{"old", "new"} {
		if ok, _ := cc.Get(ctx, k, nil); ok {
			t.Fatalf("%q survived flush", k)
		}
	}
	if !mp.has("test:" + GlobalStatsKey) {
		t.Fatalf("flush removed the global stats")
	}
	if !mp.has("test:" + StoreKey) {
		t.Fatalf("flush removed the key registry")
	}
}

func TestFlushKeepsFailedKeysRegistered(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	cc := env.cc
	_ = cc.Set(ctx, "a", 1, 0)

	env.mp.failDel = errors.New("down")
	if err := cc.Flush(ctx); err == nil {
		t.Fatalf("expected flush error")
	}
	env.mp.failDel = nil
	if err := cc.Flush(ctx); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if env.mp.has("test:a") {
		t.Fatalf("key not deleted on retry")
	}
}

func TestCloseMergesGlobalStatsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()

	s1 := newTestCache(t, mp, mp, nil).cc
	_ = s1.Set(ctx, "k", 1, 0)
	_, _ = s1.Get(ctx, "k", nil)
	if err := s1.Close(ctx); err != nil {
		t.Fatal(err)
	}

	s2 := newTestCache(t, mp, mp, nil).cc
	_, _ = s2.Get(ctx, "missing", nil)
	rep, err := s2.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := Report{
		Session: Stats{Gets: 1, Misses: 1},
		Global:  Stats{Sets: 1, Gets: 2, Hits: 1, Misses: 1},
	}
	if diff := cmp.Diff(want, rep); diff != "" {
		t.Fatalf("report (-want +got):\n%s", diff)
	}
	if s2.SessionStats().Gets != 1 {
		t.Fatalf("Stats must not count as a get")
	}
	if got := rep.Global.HitRatio(); got != 0.5 {
		t.Fatalf("hit ratio = %v", got)
	}
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	ctx := context.Background()
	cc := newMemCache(t).cc
	if err := cc.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := cc.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := cc.Set(ctx, "k", 1, 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set after close: %v", err)
	}
	if err := cc.Flush(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Flush after close: %v", err)
	}
}

func TestClosePersistFailure(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	_ = env.cc.Set(ctx, "k", 1, 0)
	env.mp.failSet = errors.New("read-only")

	err := env.cc.Close(ctx)
	var ce *CloseError
	if !errors.As(err, &ce) || ce.RegistryErr == nil || ce.StatsErr == nil {
		t.Fatalf("expected registry and stats errors, got %v", err)
	}
	if diff := cmp.Diff([]string{"registry", "globalstats"}, env.hooks.persists); diff != "" {
		t.Fatalf("persist hooks (-want +got):\n%s", diff)
	}
}

// rejectingProvider accepts every call but drops writes, as ristretto does
// under pressure.
type rejectingProvider struct{ *memProvider }

func (rejectingProvider) Set(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, nil
}

func TestCloseReportsRejectedPersist(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	env := newTestCache(t, rejectingProvider{mp}, mp, nil)
	_ = env.cc.Set(ctx, "k", 1, 0)

	err := env.cc.Close(ctx)
	if !errors.Is(err, pr.ErrSetRejected) {
		t.Fatalf("Close err = %v, want ErrSetRejected", err)
	}
	if diff := cmp.Diff([]string{"registry", "globalstats"}, env.hooks.persists); diff != "" {
		t.Fatalf("persist hooks (-want +got):\n%s", diff)
	}
}

func TestCloseErrorMessageListsEveryFailure(t *testing.T) {
	ce := &CloseError{
		RegistryErr: errors.New("registry down"),
		ProviderErr: errors.New("conn reset"),
	}
	want := "close: persist registry: registry down; provider: conn reset"
	if got := ce.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestUndecodableValueCountsNothing(t *testing.T) {
	ctx := context.Background()
	cc := newMemCache(t).cc
	if err := cc.Set(ctx, "k", "text", 0); err != nil {
		t.Fatal(err)
	}
	var n int
	found, err := cc.Get(ctx, "k", &n)
	if err == nil || found {
		t.Fatalf("decoding a string into int: found=%v err=%v", found, err)
	}
	if diff := cmp.Diff(Stats{Sets: 1}, cc.SessionStats()); diff != "" {
		t.Fatalf("session stats (-want +got):\n%s", diff)
	}
}

func TestCallRunsOncePerTTL(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	cc := env.cc

	runs := 0
	square := func(_ context.Context, args ...any) (int, error) {
		runs++
		n := args[0].(int)
		return n * n, nil
	}
	for i := 0; i < 3; i++ {
		got, err := Call(ctx, cc, "square", []any{7}, time.Minute, square)
		if err != nil || got != 49 {
			t.Fatalf("Call: got=%d err=%v", got, err)
		}
	}
	if runs != 1 {
		t.Fatalf("fn ran %d times, want 1", runs)
	}
	if _, err := Call(ctx, cc, "square", []any{8}, time.Minute, square); err != nil {
		t.Fatal(err)
	}
	if runs != 2 {
		t.Fatalf("different args should miss, runs=%d", runs)
	}
	env.clock.Advance(2 * time.Minute)
	if _, err := Call(ctx, cc, "square", []any{7}, time.Minute, square); err != nil {
		t.Fatal(err)
	}
	if runs != 3 {
		t.Fatalf("expired result should rerun fn, runs=%d", runs)
	}
}

func TestCallErrorNotCached(t *testing.T) {
	ctx := context.Background()
	cc := newMemCache(t).cc
	boom := errors.New("boom")
	runs := 0
	fn := Wrap(cc, "flaky", 0, func(context.Context, ...any) (string, error) {
		runs++
		if runs == 1 {
			return "", boom
		}
		return "ok", nil
	})
	if _, err := fn(ctx, "x"); !errors.Is(err, boom) {
		t.Fatalf("first call: %v", err)
	}
	if got, err := fn(ctx, "x"); err != nil || got != "ok" {
		t.Fatalf("second call: got=%q err=%v", got, err)
	}
	if got, _ := fn(ctx, "x"); got != "ok" || runs != 2 {
		t.Fatalf("third call should hit: got=%q runs=%d", got, runs)
	}
}

func TestCallSignature(t *testing.T) {
	a, err := CallSignature("f", []any{1, "x", map[string]int{"b": 2, "a": 1}})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := CallSignature("f", []any{1, "x", map[string]int{"a": 1, "b": 2}})
	if a != b {
		t.Fatalf("equal args gave different signatures: %s vs %s", a, b)
	}
	other, _ := CallSignature("g", []any{1, "x", map[string]int{"a": 1, "b": 2}})
	if other == a {
		t.Fatalf("function name not part of the signature")
	}
	if len(a) != len("function-")+64 || a[:9] != "function-" {
		t.Fatalf("unexpected signature shape %q", a)
	}
}

func TestFetchCachesContent(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	env.fetch.content["http://example.test/a"] = []byte("hello")

	for i := 0; i < 2; i++ {
		got, err := env.cc.Fetch(ctx, "http://example.test/a", time.Minute)
		if err != nil || string(got) != "hello" {
			t.Fatalf("Fetch: got=%q err=%v", got, err)
		}
	}
	if env.fetch.calls != 1 {
		t.Fatalf("fetcher called %d times, want 1", env.fetch.calls)
	}
	if !env.mp.has("test:" + ResourceSignature("http://example.test/a")) {
		t.Fatalf("content not stored under its resource signature")
	}
}

func TestFetchFailureAndEmptyNotCached(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)

	env.fetch.err = errors.New("unreachable")
	_, err := env.cc.Fetch(ctx, "http://example.test/x", 0)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Resource != "http://example.test/x" {
		t.Fatalf("expected FetchError, got %v", err)
	}

	env.fetch.err = nil
	if got, err := env.cc.Fetch(ctx, "http://example.test/empty", 0); err != nil || len(got) != 0 {
		t.Fatalf("empty fetch: got=%q err=%v", got, err)
	}
	_, _ = env.cc.Fetch(ctx, "http://example.test/empty", 0)
	if env.fetch.calls != 3 {
		t.Fatalf("fetcher calls = %d, want 3", env.fetch.calls)
	}
}

func TestFragmentCaptureAndReplay(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	cc := env.cc

	hit, err := cc.Fragment(ctx, "header")
	if err != nil || hit {
		t.Fatalf("first Fragment: hit=%v err=%v", hit, err)
	}
	fmt.Fprint(cc.Output(), "<h1>hi</h1>")
	if env.out.Len() != 0 {
		t.Fatalf("output leaked before save: %q", env.out.String())
	}
	if err := cc.SaveFragment(ctx, time.Minute); err != nil {
		t.Fatal(err)
	}
	if got := env.out.String(); got != "<h1>hi</h1>" {
		t.Fatalf("after save: %q", got)
	}

	hit, err = cc.Fragment(ctx, "header")
	if err != nil || !hit {
		t.Fatalf("second Fragment: hit=%v err=%v", hit, err)
	}
	if got := env.out.String(); got != "<h1>hi</h1><h1>hi</h1>" {
		t.Fatalf("after replay: %q", got)
	}

	fmt.Fprint(cc.Output(), "!")
	if got := env.out.String(); got[len(got)-1] != '!' {
		t.Fatalf("Output should write through without a pending capture")
	}
}

func TestFragmentHitInsideCapture(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	cc := env.cc

	inner := func(w io.Writer) error {
		_, err := fmt.Fprint(w, "INNER")
		return err
	}
	if err := cc.Capture(ctx, "inner", 0, inner); err != nil {
		t.Fatal(err)
	}
	env.out.Reset()

	page := func(w io.Writer) error {
		fmt.Fprint(w, "<")
		if hit, err := cc.Fragment(ctx, "inner"); err != nil || !hit {
			return fmt.Errorf("inner fragment: hit=%v err=%v", hit, err)
		}
		_, err := fmt.Fprint(w, ">")
		return err
	}
	if err := cc.Capture(ctx, "page", 0, page); err != nil {
		t.Fatal(err)
	}
	if got := env.out.String(); got != "<INNER>" {
		t.Fatalf("rendered page = %q, want <INNER>", got)
	}

	env.out.Reset()
	if hit, err := cc.Fragment(ctx, "page"); err != nil || !hit {
		t.Fatalf("page replay: hit=%v err=%v", hit, err)
	}
	if got := env.out.String(); got != "<INNER>" {
		t.Fatalf("replayed page = %q, want <INNER>", got)
	}
}

func TestSaveFragmentWithoutPending(t *testing.T) {
	cc := newMemCache(t).cc
	if err := cc.SaveFragment(context.Background(), 0); !errors.Is(err, ErrNoPendingFragment) {
		t.Fatalf("expected ErrNoPendingFragment, got %v", err)
	}
}

func TestFragmentReplacedEmitsPending(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	cc := env.cc

	_, _ = cc.Fragment(ctx, "outer")
	fmt.Fprint(cc.Output(), "A")
	_, _ = cc.Fragment(ctx, "inner")
	fmt.Fprint(cc.Output(), "B")
	if err := cc.SaveFragment(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if got := env.out.String(); got != "AB" {
		t.Fatalf("output = %q, want AB", got)
	}
	if ok, _ := cc.Fragment(ctx, "outer"); ok {
		t.Fatalf("replaced capture must not be cached")
	}
}

func TestCaptureHelperAndCloseFlushesPending(t *testing.T) {
	ctx := context.Background()
	env := newMemCache(t)
	cc := env.cc

	renders := 0
	render := func(w io.Writer) error {
		renders++
		_, err := fmt.Fprint(w, "body")
		return err
	}
	for i := 0; i < 2; i++ {
		if err := cc.Capture(ctx, "body", 0, render); err != nil {
			t.Fatal(err)
		}
	}
	if renders != 1 || env.out.String() != "bodybody" {
		t.Fatalf("renders=%d out=%q", renders, env.out.String())
	}

	_, _ = cc.Fragment(ctx, "dangling")
	fmt.Fprint(cc.Output(), "tail")
	_ = cc.Close(ctx)
	if got := env.out.String(); got != "bodybodytail" {
		t.Fatalf("Close should emit pending output, got %q", got)
	}
}

func TestNamespaceRejectsSeparator(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	a := newTestCache(t, mp, mp, func(o *Options) { o.Namespace = "a" }).cc
	if err := a.Set(ctx, "b:x", "from-a", 0); err != nil {
		t.Fatal(err)
	}
	// "a:b" + "x" would alias "a" + "b:x"
	if _, err := New(ctx, Options{Namespace: "a:b", Provider: mp}); err == nil {
		t.Fatalf("expected New to reject a namespace containing ':'")
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	a := newTestCache(t, mp, mp, func(o *Options) { o.Namespace = "a" }).cc
	b := newTestCache(t, mp, mp, func(o *Options) { o.Namespace = "b" }).cc

	_ = a.Set(ctx, "k", "from-a", 0)
	if ok, _ := b.Get(ctx, "k", nil); ok {
		t.Fatalf("namespace b sees a's key")
	}
	_ = b.Set(ctx, "k", "from-b", 0)
	if err := a.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	var v string
	if ok, _ := b.Get(ctx, "k", &v); !ok || v != "from-b" {
		t.Fatalf("flush of a touched b: ok=%v v=%q", ok, v)
	}
}
