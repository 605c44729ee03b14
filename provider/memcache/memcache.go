// Package memcache is the distributed provider backed by bradfitz/gomemcache.
//
// memcached counters are unsigned 64-bit: a decrement saturates at 0 instead
// of going negative.
package memcache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	mc "github.com/bradfitz/gomemcache/memcache"

	pr "github.com/unkn0wn-root/megacache/provider"
)

// memcached treats expirations above 30 days as absolute unix timestamps.
const maxRelativeExpiry = 30 * 24 * time.Hour

var ErrNoServers = errors.New("memcache provider: no servers")

type Memcache struct {
	c *mc.Client
}

var (
	_ pr.Provider = (*Memcache)(nil)
	_ pr.Counter  = (*Memcache)(nil)
)

type Config struct {
	Servers      []string // host:port; port defaults to 11211 when omitted
	Timeout      time.Duration
	MaxIdleConns int
}

func New(cfg Config) (*Memcache, error) {
	if len(cfg.Servers) == 0 {
		return nil, ErrNoServers
	}
	servers := make([]string, len(cfg.Servers))
	for i, s := range cfg.Servers {
		servers[i] = withDefaultPort(s)
	}
	c := mc.New(servers...)
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	if cfg.MaxIdleConns > 0 {
		c.MaxIdleConns = cfg.MaxIdleConns
	}
	if err := c.Ping(); err != nil {
		return nil, err
	}
	return &Memcache{c: c}, nil
}

func NewWithClient(c *mc.Client) *Memcache { return &Memcache{c: c} }

func (p *Memcache) Get(_ context.Context, key string) ([]byte, bool, error) {
	it, err := p.c.Get(key)
	if errors.Is(err, mc.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return it.Value, true, nil
}

func (p *Memcache) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	err := p.c.Set(&mc.Item{Key: key, Value: value, Expiration: expiration(time.Now(), ttl)})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Memcache) Del(_ context.Context, key string) (bool, error) {
	err := p.c.Delete(key)
	if errors.Is(err, mc.ErrCacheMiss) {
		return false, nil
	}
	return err == nil, err
}

// IncrBy seeds a missing key with max(delta, 0). If another client seeds it
// first, the increment is retried once against the stored value.
func (p *Memcache) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	for attempt := 0; ; attempt++ {
		var (
			n   uint64
			err error
		)
		if delta >= 0 {
			n, err = p.c.Increment(key, uint64(delta))
		} else {
			n, err = p.c.Decrement(key, uint64(-delta))
		}
		if err == nil {
			return int64(n), nil
		}
		if !errors.Is(err, mc.ErrCacheMiss) || attempt > 0 {
			return 0, err
		}

		seed := delta
		if seed < 0 {
			seed = 0
		}
		err = p.c.Add(&mc.Item{Key: key, Value: strconv.AppendInt(nil, seed, 10)})
		if err == nil {
			return seed, nil
		}
		if !errors.Is(err, mc.ErrNotStored) {
			return 0, err
		}
	}
}

func (p *Memcache) Close(context.Context) error { return nil }

func expiration(now time.Time, ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	if ttl > maxRelativeExpiry {
		return int32(now.Add(ttl).Unix())
	}
	secs := int32((ttl + time.Second - 1) / time.Second)
	return secs
}

func withDefaultPort(s string) string {
	if strings.Contains(s, "/") { // unix socket
		return s
	}
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case ':':
			return s
		case ']':
			return s + ":11211"
		}
	}
	return s + ":11211"
}
