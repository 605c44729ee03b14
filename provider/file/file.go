// Package file stores all entries of one cache in a single msgpack file.
//
// The file is read once at construction (expired entries are purged at that
// point, since nothing else would ever remove them) and written back on Close.
// There is no file locking: two processes sharing a file overwrite each
// other's writes, last Close wins.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	pr "github.com/unkn0wn-root/megacache/provider"
)

type entry struct {
	Value     []byte `msgpack:"v"`
	ExpiresAt int64  `msgpack:"e"` // unix nanos
}

type Config struct {
	Dir  string // must exist and be writable
	Name string // file name without extension; usually the cache name
	Now  func() time.Time
}

type File struct {
	path string
	now  func() time.Time

	mu     sync.Mutex
	data   map[string]entry
	dirty  bool
	closed bool
}

var _ pr.Provider = (*File)(nil)

func New(cfg Config) (*File, error) {
	if cfg.Dir == "" || cfg.Name == "" {
		return nil, errors.New("file provider: dir and name are required")
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if fi, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("file provider: %w", err)
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("file provider: %s is not a directory", dir)
	}

	f := &File{
		path: filepath.Join(dir, cfg.Name+".mgc"),
		now:  cfg.Now,
		data: make(map[string]entry),
	}
	if f.now == nil {
		f.now = time.Now
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	f.purgeExpired()
	return f, nil
}

// Path returns the backing file location.
func (f *File) Path() string { return f.path }

func (f *File) load() error {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("file provider: read %s: %w", f.path, err)
	}
	if len(b) == 0 {
		return nil
	}
	var data map[string]entry
	if err := msgpack.Unmarshal(b, &data); err != nil {
		// unreadable store: start fresh, it is only a cache
		return nil
	}
	if data != nil {
		f.data = data
	}
	return nil
}

func (f *File) purgeExpired() {
	now := f.now().UnixNano()
	for k, e := range f.data {
		if e.ExpiresAt <= now {
			delete(f.data, k)
			f.dirty = true
		}
	}
}

func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok || e.ExpiresAt <= f.now().UnixNano() {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (f *File) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, os.ErrClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	f.data[key] = entry{Value: v, ExpiresAt: pr.Deadline(f.now(), ttl).UnixNano()}
	f.dirty = true
	return true, nil
}

func (f *File) Del(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, os.ErrClosed
	}
	if _, ok := f.data[key]; !ok {
		return false, nil
	}
	delete(f.data, key)
	f.dirty = true
	return true, nil
}

// Sync writes the current contents to disk (temp file + rename).
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncLocked()
}

func (f *File) syncLocked() error {
	if !f.dirty {
		return nil
	}
	b, err := msgpack.Marshal(f.data)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("file provider: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("file provider: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file provider: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o666); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file provider: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file provider: %w", err)
	}
	f.dirty = false
	return nil
}

// Close persists the store. Safe to call multiple times.
func (f *File) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.syncLocked()
}
