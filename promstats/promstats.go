// Package promstats exports megacache statistics as Prometheus metrics.
//
//	col := promstats.New(promstats.Options{Global: true})
//	prometheus.MustRegister(col)
//	col.Add(cc)
//	defer col.Remove(cc.Namespace())
package promstats

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/megacache"
)

// Source is the part of *megacache.Cache the collector reads.
type Source interface {
	Namespace() string
	SessionStats() megacache.Stats
	Stats(ctx context.Context) (megacache.Report, error)
}

var _ Source = (*megacache.Cache)(nil)

type Options struct {
	// Namespace is the metric name prefix; "" => "megacache".
	Namespace string
	// Global also exports the persisted totals. Each scrape then reads the
	// backend once per cache.
	Global bool
	// GlobalTimeout bounds that read; 0 => 2s.
	GlobalTimeout time.Duration
}

// Collector is a prometheus.Collector over any number of caches, keyed by
// cache name.
type Collector struct {
	opts Options

	sessionOps *prometheus.Desc
	globalOps  *prometheus.Desc
	hitRatio   *prometheus.Desc
	scrapeErrs *prometheus.Desc

	mu      sync.RWMutex
	sources map[string]Source
}

var _ prometheus.Collector = (*Collector)(nil)

func New(opts Options) *Collector {
	ns := opts.Namespace
	if ns == "" {
		ns = "megacache"
	}
	if opts.GlobalTimeout <= 0 {
		opts.GlobalTimeout = 2 * time.Second
	}
	return &Collector{
		opts: opts,
		sessionOps: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "session", "operations_total"),
			"Operations counted by the current cache session.",
			[]string{"cache_name", "op"}, nil),
		globalOps: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "global", "operations_total"),
			"Operations over every session of the cache, including the current one.",
			[]string{"cache_name", "op"}, nil),
		hitRatio: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "session", "hit_ratio"),
			"Hits divided by gets in the current session.",
			[]string{"cache_name"}, nil),
		scrapeErrs: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "global", "read_error"),
			"1 when the persisted totals could not be read during this scrape.",
			[]string{"cache_name"}, nil),
		sources: make(map[string]Source),
	}
}

// Add starts exporting s, replacing a source with the same namespace.
func (c *Collector) Add(s Source) {
	c.mu.Lock()
	c.sources[s.Namespace()] = s
	c.mu.Unlock()
}

func (c *Collector) Remove(namespace string) {
	c.mu.Lock()
	delete(c.sources, namespace)
	c.mu.Unlock()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionOps
	ch <- c.hitRatio
	if c.opts.Global {
		ch <- c.globalOps
		ch <- c.scrapeErrs
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	sources := make([]Source, 0, len(c.sources))
	for _, s := range c.sources {
		sources = append(sources, s)
	}
	c.mu.RUnlock()

	for _, s := range sources {
		name := s.Namespace()
		st := s.SessionStats()
		emitOps(ch, c.sessionOps, name, st)
		ch <- prometheus.MustNewConstMetric(c.hitRatio, prometheus.GaugeValue, st.HitRatio(), name)

		if !c.opts.Global {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.GlobalTimeout)
		rep, err := s.Stats(ctx)
		cancel()
		if err != nil {
			ch <- prometheus.MustNewConstMetric(c.scrapeErrs, prometheus.GaugeValue, 1, name)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.scrapeErrs, prometheus.GaugeValue, 0, name)
		emitOps(ch, c.globalOps, name, rep.Global)
	}
}

func emitOps(ch chan<- prometheus.Metric, d *prometheus.Desc, name string, st megacache.Stats) {
	for _, op := range []struct {
		label string
		v     uint64
	}{
		{"hits", st.Hits},
		{"misses", st.Misses},
		{"sets", st.Sets},
		{"gets", st.Gets},
		{"deletes", st.Deletes},
		{"increments", st.Increments},
		{"decrements", st.Decrements},
	} {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(op.v), name, op.label)
	}
}
