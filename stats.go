package megacache

import (
	"context"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	pr "github.com/unkn0wn-root/megacache/provider"
)

// Stats holds the seven operation counters.
type Stats struct {
	Hits       uint64 `json:"hits" msgpack:"hits"`
	Misses     uint64 `json:"misses" msgpack:"misses"`
	Sets       uint64 `json:"sets" msgpack:"sets"`
	Gets       uint64 `json:"gets" msgpack:"gets"`
	Deletes    uint64 `json:"deletes" msgpack:"deletes"`
	Increments uint64 `json:"increments" msgpack:"increments"`
	Decrements uint64 `json:"decrements" msgpack:"decrements"`
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Hits:       s.Hits + o.Hits,
		Misses:     s.Misses + o.Misses,
		Sets:       s.Sets + o.Sets,
		Gets:       s.Gets + o.Gets,
		Deletes:    s.Deletes + o.Deletes,
		Increments: s.Increments + o.Increments,
		Decrements: s.Decrements + o.Decrements,
	}
}

// HitRatio is hits/gets, or 0 before the first get.
func (s Stats) HitRatio() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Gets)
}

// Report is the statistics export: this session, and every session ever run
// against the namespace including this one.
type Report struct {
	Session Stats `json:"session"`
	Global  Stats `json:"global"`
}

// counters are only incremented after the provider call succeeded, so a
// faulted operation never shows up in the statistics.
type counters struct {
	hits, misses, sets, gets, deletes, increments, decrements atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Sets:       c.sets.Load(),
		Gets:       c.gets.Load(),
		Deletes:    c.deletes.Load(),
		Increments: c.increments.Load(),
		Decrements: c.decrements.Load(),
	}
}

// SessionStats returns this session's counters.
func (cc *Cache) SessionStats() Stats { return cc.stats.snapshot() }

// Stats returns the session counters and the global counters merged with
// them. It persists nothing and does not count as a get.
func (cc *Cache) Stats(ctx context.Context) (Report, error) {
	session := cc.stats.snapshot()
	global, err := cc.loadGlobalStats(ctx)
	if err != nil {
		return Report{Session: session}, err
	}
	return Report{Session: session, Global: global.Add(session)}, nil
}

func (cc *Cache) loadGlobalStats(ctx context.Context) (Stats, error) {
	raw, ok, err := cc.provider.Get(ctx, cc.storageKey(GlobalStatsKey))
	if err != nil || !ok {
		return Stats{}, err
	}
	var s Stats
	if err := msgpack.Unmarshal(raw, &s); err != nil {
		cc.log.Warn("global stats unreadable; starting from zero", Fields{"ns": cc.ns, "err": err})
		return Stats{}, nil
	}
	return s, nil
}

// persistGlobalStats re-reads the stored totals right before writing so the
// window for a concurrent session's update to be lost stays small.
func (cc *Cache) persistGlobalStats(ctx context.Context) error {
	session := cc.stats.snapshot()
	if session == (Stats{}) {
		return nil
	}
	global, err := cc.loadGlobalStats(ctx)
	if err != nil {
		return err
	}
	b, err := msgpack.Marshal(global.Add(session))
	if err != nil {
		return err
	}
	ok, err := cc.provider.Set(ctx, cc.storageKey(GlobalStatsKey), b, 0)
	if err != nil {
		return err
	}
	if !ok {
		return pr.ErrSetRejected
	}
	return nil
}
