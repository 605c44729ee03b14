package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	pr "github.com/unkn0wn-root/megacache/provider"
)

// Local keeps the key set in memory and saves it as a single msgpack value
// under storageKey when Persist is called.
//
// Concurrent processes sharing a namespace race on that value: each loads
// the set, adds its own keys and the last Persist wins. Keys written by the
// losing process stay in the backend but are no longer reachable by Flush.
type Local struct {
	p          pr.Provider
	storageKey string

	// OnReset, when set, is called when a stored set could not be decoded.
	OnReset func(err error)

	mu    sync.Mutex
	keys  map[string]struct{}
	dirty bool
}

var _ Registry = (*Local)(nil)

func NewLocal(p pr.Provider, storageKey string) *Local {
	return &Local{p: p, storageKey: storageKey, keys: make(map[string]struct{})}
}

func (l *Local) Load(ctx context.Context) error {
	raw, ok, err := l.p.Get(ctx, l.storageKey)
	if err != nil {
		return err
	}
	keys := make(map[string]struct{})
	if ok {
		var list []string
		if err := msgpack.Unmarshal(raw, &list); err != nil {
			if l.OnReset != nil {
				l.OnReset(err)
			}
		} else {
			for _, k := range list {
				keys[k] = struct{}{}
			}
		}
	}
	l.mu.Lock()
	l.keys = keys
	l.dirty = false
	l.mu.Unlock()
	return nil
}

func (l *Local) Add(_ context.Context, key string) error {
	l.mu.Lock()
	if _, ok := l.keys[key]; !ok {
		l.keys[key] = struct{}{}
		l.dirty = true
	}
	l.mu.Unlock()
	return nil
}

func (l *Local) Remove(_ context.Context, key string) error {
	l.mu.Lock()
	if _, ok := l.keys[key]; ok {
		delete(l.keys, key)
		l.dirty = true
	}
	l.mu.Unlock()
	return nil
}

func (l *Local) Keys(context.Context) ([]string, error) {
	l.mu.Lock()
	out := make([]string, 0, len(l.keys))
	for k := range l.keys {
		out = append(out, k)
	}
	l.mu.Unlock()
	return out, nil
}

func (l *Local) Reset(context.Context) error {
	l.mu.Lock()
	if len(l.keys) > 0 {
		l.keys = make(map[string]struct{})
		l.dirty = true
	}
	l.mu.Unlock()
	return nil
}

// Persist saves the set without expiry. Nothing is written when the set did
// not change since Load.
func (l *Local) Persist(ctx context.Context) error {
	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return nil
	}
	list := make([]string, 0, len(l.keys))
	for k := range l.keys {
		list = append(list, k)
	}
	l.mu.Unlock()

	sort.Strings(list)
	b, err := msgpack.Marshal(list)
	if err != nil {
		return err
	}
	ok, err := l.p.Set(ctx, l.storageKey, b, 0)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("registry %q: %w", l.storageKey, pr.ErrSetRejected)
	}
	l.mu.Lock()
	l.dirty = false
	l.mu.Unlock()
	return nil
}

// Len reports the number of tracked keys.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
