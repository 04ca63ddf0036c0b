package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leapstack-labs/leapviz/pkg/cache"
)

type cacheMetric struct {
	desc  *prometheus.Desc
	typ   prometheus.ValueType
	value func(cache.Stats) float64
}

// cacheCollector reports cache.Stats snapshots at scrape time.
type cacheCollector struct {
	stats   func() map[string]cache.Stats
	metrics []cacheMetric
}

func newCacheCollector(stats func() map[string]cache.Stats) *cacheCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, []string{"cache"}, nil)
	}
	gauge, counter := prometheus.GaugeValue, prometheus.CounterValue

	return &cacheCollector{
		stats: stats,
		metrics: []cacheMetric{
			{desc("entries", "Live cache entries."), gauge, func(s cache.Stats) float64 { return float64(s.Entries) }},
			{desc("max_entries", "Cache capacity."), gauge, func(s cache.Stats) float64 { return float64(s.MaxEntries) }},
			{desc("approx_bytes", "Approximate size of cached values."), gauge, func(s cache.Stats) float64 { return float64(s.ApproxBytes) }},
			{desc("hits_total", "Cache hits."), counter, func(s cache.Stats) float64 { return float64(s.Hits) }},
			{desc("misses_total", "Cache misses."), counter, func(s cache.Stats) float64 { return float64(s.Misses) }},
			{desc("evictions_total", "Entries evicted for capacity."), counter, func(s cache.Stats) float64 { return float64(s.Evictions) }},
			{desc("expirations_total", "Entries dropped after their TTL."), counter, func(s cache.Stats) float64 { return float64(s.Expirations) }},
			{desc("invalidations_total", "Entries removed by invalidation."), counter, func(s cache.Stats) float64 { return float64(s.Invalidations) }},
			{desc("fetches_total", "Fetches run on a miss."), counter, func(s cache.Stats) float64 { return float64(s.Fetches) }},
			{desc("shared_fetches_total", "Callers that joined an in-flight fetch."), counter, func(s cache.Stats) float64 { return float64(s.SharedFetches) }},
		},
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.stats()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := snapshot[name]
		for _, m := range c.metrics {
			ch <- prometheus.MustNewConstMetric(m.desc, m.typ, m.value(s), name)
		}
	}
}
