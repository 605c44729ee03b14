package megacache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"
)

type pendingFragment struct {
	name string
	buf  bytes.Buffer
}

func fragmentKey(name string) string { return "fragment-" + name }

// Fragment replays the cached output fragment name through cc.Output() and
// returns true. On a miss it starts capturing: everything written to
// cc.Output() is buffered until SaveFragment, and it returns false.
//
//	if hit, err := cc.Fragment(ctx, "header"); err == nil && !hit {
//		renderHeader(cc.Output())
//		err = cc.SaveFragment(ctx, time.Minute)
//	}
//
// Only one capture can be pending. Starting another one emits the pending
// bytes uncached and replaces it.
func (cc *Cache) Fragment(ctx context.Context, name string) (bool, error) {
	if err := cc.checkKey(fragmentKey(name)); err != nil {
		return false, err
	}
	var content []byte
	found, err := cc.get(ctx, fragmentKey(name), &content, bytesCodec)
	if err != nil {
		return false, err
	}
	if found {
		// a pending capture receives the replay
		_, err := cc.Output().Write(content)
		return true, err
	}

	cc.fragMu.Lock()
	defer cc.fragMu.Unlock()
	if cc.pending != nil {
		cc.log.Warn("fragment capture replaced before save", Fields{"fragment": cc.pending.name, "next": name})
		if _, err := cc.out.Write(cc.pending.buf.Bytes()); err != nil {
			cc.pending = nil
			return false, err
		}
	}
	cc.pending = &pendingFragment{name: name}
	return false, nil
}

// SaveFragment ends the pending capture, caches the captured output for ttl
// and writes it to the output writer. The output is emitted even when caching
// fails.
func (cc *Cache) SaveFragment(ctx context.Context, ttl time.Duration) error {
	cc.fragMu.Lock()
	p := cc.pending
	cc.pending = nil
	cc.fragMu.Unlock()
	if p == nil {
		return ErrNoPendingFragment
	}

	content := p.buf.Bytes()
	setErr := cc.set(ctx, fragmentKey(p.name), content, ttl, bytesCodec)
	_, writeErr := cc.out.Write(content)
	return errors.Join(setErr, writeErr)
}

// Capture is Fragment + SaveFragment around render.
func (cc *Cache) Capture(ctx context.Context, name string, ttl time.Duration, render func(w io.Writer) error) error {
	hit, err := cc.Fragment(ctx, name)
	if err != nil || hit {
		return err
	}
	if err := render(cc.Output()); err != nil {
		cc.abandonFragment()
		return err
	}
	return cc.SaveFragment(ctx, ttl)
}

// Output is the writer generated output should go to. While a fragment
// capture is pending it buffers; otherwise it writes through to
// Options.Output.
func (cc *Cache) Output() io.Writer { return fragmentWriter{cc} }

type fragmentWriter struct{ cc *Cache }

func (w fragmentWriter) Write(p []byte) (int, error) {
	w.cc.fragMu.Lock()
	defer w.cc.fragMu.Unlock()
	if w.cc.pending != nil {
		return w.cc.pending.buf.Write(p)
	}
	return w.cc.out.Write(p)
}

// abandonFragment emits a pending capture without caching it.
func (cc *Cache) abandonFragment() {
	cc.fragMu.Lock()
	defer cc.fragMu.Unlock()
	if cc.pending == nil {
		return
	}
	cc.log.Warn("fragment capture abandoned", Fields{"fragment": cc.pending.name})
	_, _ = cc.out.Write(cc.pending.buf.Bytes())
	cc.pending = nil
}
