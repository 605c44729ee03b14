package backend

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/megacache"
	"github.com/unkn0wn-root/megacache/config"
	"github.com/unkn0wn-root/megacache/provider/bigcache"
	"github.com/unkn0wn-root/megacache/provider/file"
	"github.com/unkn0wn-root/megacache/provider/memcache"
	"github.com/unkn0wn-root/megacache/provider/redis"
	"github.com/unkn0wn-root/megacache/provider/ristretto"
	"github.com/unkn0wn-root/megacache/provider/sqlstore"
	"github.com/unkn0wn-root/megacache/registry"
)

func init() {
	Register("memory", openMemory)
	Register("bigcache", openBigcache)
	Register("redis", openRedis)
	Register("memcache", openMemcache)
	Register("file", openFile)
	Register("sqlite", openSQL(sqlstore.SQLite))
	Register("postgres", openSQL(sqlstore.Postgres))
	Register("mysql", openSQL(sqlstore.MySQL))
}

func openMemory(_ context.Context, cfg *config.Config) (Storage, error) {
	p, err := ristretto.New(ristretto.Config{
		NumCounters: cfg.Memory.NumCounters,
		MaxCost:     cfg.Memory.MaxCost,
		BufferItems: cfg.Memory.BufferItems,
	})
	if err != nil {
		return Storage{}, err
	}
	return Storage{Provider: p}, nil
}

func openBigcache(_ context.Context, cfg *config.Config) (Storage, error) {
	b := cfg.Bigcache
	p, err := bigcache.New(bigcache.Config{
		LifeWindow:         b.LifeWindow,
		CleanWindow:        b.CleanWindow,
		MaxEntriesInWindow: b.MaxEntriesInWindow,
		MaxEntrySize:       b.MaxEntrySize,
		HardMaxCacheSizeMB: b.HardMaxCacheSizeMB,
	})
	if err != nil {
		return Storage{}, err
	}
	return Storage{Provider: p}, nil
}

func openRedis(ctx context.Context, cfg *config.Config) (Storage, error) {
	r := cfg.Redis
	p, err := redis.Dial(ctx, &goredis.UniversalOptions{
		Addrs:    r.Addrs,
		Username: r.Username,
		Password: r.Password,
		DB:       r.DB,
	})
	if err != nil {
		return Storage{}, err
	}
	st := Storage{Provider: p}
	if r.SharedRegistry {
		st.Registry = registry.NewRedis(p.Client(), cfg.CacheName+":"+megacache.StoreKey+":set")
	}
	return st, nil
}

func openMemcache(_ context.Context, cfg *config.Config) (Storage, error) {
	m := cfg.Memcache
	p, err := memcache.New(memcache.Config{
		Servers:      m.Servers,
		Timeout:      m.Timeout,
		MaxIdleConns: m.MaxIdleConns,
	})
	if err != nil {
		return Storage{}, err
	}
	return Storage{Provider: p}, nil
}

func openFile(_ context.Context, cfg *config.Config) (Storage, error) {
	p, err := file.New(file.Config{Dir: cfg.File.Dir, Name: cfg.CacheName})
	if err != nil {
		return Storage{}, err
	}
	return Storage{Provider: p}, nil
}

func openSQL(d sqlstore.Dialect) Factory {
	return func(ctx context.Context, cfg *config.Config) (Storage, error) {
		p, err := sqlstore.Open(ctx, sqlstore.Config{
			Dialect: d,
			DSN:     cfg.SQL.DSN,
			Table:   cfg.SQL.Table,
		})
		if err != nil {
			return Storage{}, err
		}
		return Storage{Provider: p}, nil
	}
}
