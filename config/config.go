// Package config loads a megacache deployment description from YAML.
//
//	cacheName: shop
//	backend: redis
//	codec: msgpack
//	redis:
//	  addrs: ["${REDIS_ADDR}"]
//	  sharedRegistry: true
//
// ${VAR} references are replaced with environment values before parsing;
// unset variables are left as written.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/megacache/codec"
)

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %s: %s", e.Field, e.Msg) }

type Config struct {
	CacheName string `yaml:"cacheName"`
	Backend   string `yaml:"backend"`
	Codec     string `yaml:"codec"`

	Memory   MemoryConfig   `yaml:"memory"`
	Bigcache BigcacheConfig `yaml:"bigcache"`
	Redis    RedisConfig    `yaml:"redis"`
	Memcache MemcacheConfig `yaml:"memcache"`
	File     FileConfig     `yaml:"file"`
	SQL      SQLConfig      `yaml:"sql"` // sqlite, postgres and mysql
	Fetch    FetchConfig    `yaml:"fetch"`
}

type MemoryConfig struct {
	NumCounters int64 `yaml:"numCounters"`
	MaxCost     int64 `yaml:"maxCost"`
	BufferItems int64 `yaml:"bufferItems"`
}

type BigcacheConfig struct {
	LifeWindow         time.Duration `yaml:"lifeWindow"`
	CleanWindow        time.Duration `yaml:"cleanWindow"`
	MaxEntriesInWindow int           `yaml:"maxEntriesInWindow"`
	MaxEntrySize       int           `yaml:"maxEntrySize"`
	HardMaxCacheSizeMB int           `yaml:"hardMaxCacheSizeMB"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	// SharedRegistry keeps the key registry in a native Redis set instead of a
	// single value rewritten at Close.
	SharedRegistry bool `yaml:"sharedRegistry"`
}

type MemcacheConfig struct {
	Servers      []string      `yaml:"servers"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxIdleConns int           `yaml:"maxIdleConns"`
}

type FileConfig struct {
	Dir string `yaml:"dir"`
}

type SQLConfig struct {
	DSN   string `yaml:"dsn"` // a file path for sqlite
	Table string `yaml:"table"`
}

type FetchConfig struct {
	RetryMax     int           `yaml:"retryMax"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBytes     int64         `yaml:"maxBytes"`
	DisableFiles bool          `yaml:"disableFiles"`
}

// Default is the configuration an empty document yields. Bigcache sizes are
// kept small because bigcache preallocates MaxEntriesInWindow*MaxEntrySize.
func Default() *Config {
	return &Config{
		Backend:  "memory",
		Codec:    "msgpack",
		Memory:   MemoryConfig{NumCounters: 1e6, MaxCost: 64 << 20, BufferItems: 64},
		Bigcache: BigcacheConfig{MaxEntriesInWindow: 10_000, MaxEntrySize: 512},
		SQL:      SQLConfig{Table: "megacache"},
		Fetch:    FetchConfig{RetryMax: 2, Timeout: 30 * time.Second},
	}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse applies data over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(expandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandEnv(in string) string {
	return envPattern.ReplaceAllStringFunc(in, func(m string) string {
		if v, ok := os.LookupEnv(m[2 : len(m)-1]); ok {
			return v
		}
		return m
	})
}

// Validate checks the settings the selected backend needs. Whether the backend
// name itself is known is decided by the backend registry.
func (c *Config) Validate() error {
	if c.CacheName == "" {
		return &ConfigError{Field: "cacheName", Msg: "is required"}
	}
	if strings.ContainsAny(c.CacheName, " \t\r\n") {
		return &ConfigError{Field: "cacheName", Msg: "must not contain whitespace"}
	}
	if strings.Contains(c.CacheName, ":") {
		return &ConfigError{Field: "cacheName", Msg: "must not contain ':'"}
	}
	if c.Backend == "" {
		return &ConfigError{Field: "backend", Msg: "is required"}
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		return &ConfigError{Field: "codec", Msg: err.Error()}
	}

	switch c.Backend {
	case "memory":
		if c.Memory.NumCounters <= 0 || c.Memory.MaxCost <= 0 || c.Memory.BufferItems <= 0 {
			return &ConfigError{Field: "memory", Msg: "numCounters, maxCost and bufferItems must be positive"}
		}
	case "redis":
		if len(c.Redis.Addrs) == 0 {
			return &ConfigError{Field: "redis.addrs", Msg: "at least one address is required"}
		}
	case "memcache":
		if len(c.Memcache.Servers) == 0 {
			return &ConfigError{Field: "memcache.servers", Msg: "at least one server is required"}
		}
	case "file":
		if c.File.Dir == "" {
			return &ConfigError{Field: "file.dir", Msg: "is required"}
		}
	case "sqlite", "postgres", "mysql":
		if c.SQL.DSN == "" {
			return &ConfigError{Field: "sql.dsn", Msg: "is required for " + c.Backend}
		}
	}
	if c.Fetch.RetryMax < 0 {
		return &ConfigError{Field: "fetch.retryMax", Msg: "must not be negative"}
	}
	return nil
}
