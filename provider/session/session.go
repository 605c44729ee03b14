// Package session stores entries inside a per-user session value map, such as
// the Values field of a gorilla/sessions Session. Entries live as long as the
// session does; persisting the session is the caller's job.
//
// The entry map is a map[string][]byte of msgpack records, registered with
// encoding/gob so gob-backed session stores can serialize it.
package session

import (
	"context"
	"encoding/gob"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	pr "github.com/unkn0wn-root/megacache/provider"
)

// Key under which the entry map is kept inside the session values.
const Key = "megacache"

func init() {
	gob.Register(map[string][]byte{})
}

type entry struct {
	Value     []byte    `msgpack:"v"`
	ExpiresAt time.Time `msgpack:"e"`
}

func decodeEntry(b []byte) (entry, bool) {
	var e entry
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return entry{}, false
	}
	return e, true
}

// Session is not safe for concurrent use across requests of the same user
// unless the underlying values map is.
type Session struct {
	mu  sync.Mutex
	m   map[string][]byte
	now func() time.Time
}

var _ pr.Provider = (*Session)(nil)

// New attaches to values (creating the entry map when absent) and drops
// expired entries.
func New(values map[any]any, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	m, _ := values[Key].(map[string][]byte)
	if m == nil {
		m = make(map[string][]byte)
		values[Key] = m
	}
	s := &Session{m: m, now: now}
	t := now()
	for k, b := range m {
		if e, ok := decodeEntry(b); !ok || !e.ExpiresAt.After(t) {
			delete(m, k)
		}
	}
	return s
}

func (s *Session) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	e, ok := decodeEntry(b)
	if !ok || !e.ExpiresAt.After(s.now()) {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (s *Session) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := msgpack.Marshal(entry{Value: value, ExpiresAt: pr.Deadline(s.now(), ttl)})
	if err != nil {
		return false, err
	}
	s.m[key] = b
	return true, nil
}

func (s *Session) Del(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	delete(s.m, key)
	return ok, nil
}

// Len reports the number of entries (expired ones included).
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *Session) Close(context.Context) error { return nil }
