package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/megacache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery  uint64
	NonAtomicEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr  atomic.Uint64
	nonAtomicCtr atomic.Uint64
}

var _ megacache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("megacache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("megacache.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) RegistryReset(ns string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("megacache.registry_reset",
		"ns", ns,
		"err", err)
}

func (h *Hooks) PersistFailed(ns, what string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("megacache.persist_failed",
		"ns", ns,
		"what", what,
		"err", err)
}

func (h *Hooks) NonAtomicCounter(storageKey string) {
	if h.l == nil || !sample(h.opts.NonAtomicEvery, &h.nonAtomicCtr) {
		return
	}
	h.l.Info("megacache.non_atomic_counter",
		"key", h.redact(storageKey),
		"note", "provider has no native counter; concurrent updates from other processes can be lost")
}
