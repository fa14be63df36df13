package plitka

import (
	"github.com/prometheus/client_golang/prometheus"
)

var CacheHitCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "plitka",
	Subsystem: "cache",
	Name:      "hits",
}, []string{"tier"})

var CacheMissCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "plitka",
	Subsystem: "cache",
	Name:      "misses",
}, []string{"kind"})

var EvictionCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "plitka",
	Subsystem: "cache",
	Name:      "evictions",
}, []string{"tier", "outcome"})

var HealCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "plitka",
	Subsystem: "index",
	Name:      "heals",
}, []string{"kind"})

var FlushOpCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "plitka",
	Subsystem: "flush",
	Name:      "ops",
}, []string{"op"})

var ItemAddCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "plitka",
	Subsystem: "engine",
	Name:      "items_added",
})

var ItemRemoveCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "plitka",
	Subsystem: "engine",
	Name:      "items_removed",
})

var RegionDeleteCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "plitka",
	Subsystem: "engine",
	Name:      "region_deletes",
})

var PinnedRegions = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "plitka",
	Subsystem: "engine",
	Name:      "pinned_regions",
})

var ThumbRenderCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "plitka",
	Subsystem: "thumbs",
	Name:      "renders",
})

// EngineCollector exposes the engine's live gauges. Register it with
// the host application's registry alongside the package counters.
type EngineCollector struct {
	eng *Engine

	regions       *prometheus.Desc
	cacheRegions  *prometheus.Desc
	cacheBytes    *prometheus.Desc
	overRegions   *prometheus.Desc
	overBytes     *prometheus.Desc
	pendingFlush  *prometheus.Desc
	loadAvgMicros *prometheus.Desc
}

func NewEngineCollector(eng *Engine) *EngineCollector {
	return &EngineCollector{
		eng: eng,

		regions: prometheus.NewDesc(
			"plitka_regions",
			"Number of regions currently holding content",
			nil, nil,
		),
		cacheRegions: prometheus.NewDesc(
			"plitka_cache_regions",
			"Regions resident in the primary cache",
			nil, nil,
		),
		cacheBytes: prometheus.NewDesc(
			"plitka_cache_bytes",
			"Estimated bytes held by the primary cache",
			nil, nil,
		),
		overRegions: prometheus.NewDesc(
			"plitka_overflow_regions",
			"Regions resident in the overflow tier",
			nil, nil,
		),
		overBytes: prometheus.NewDesc(
			"plitka_overflow_bytes",
			"Estimated bytes held by the overflow tier",
			nil, nil,
		),
		pendingFlush: prometheus.NewDesc(
			"plitka_pending_flush",
			"Evicted dirty regions awaiting persistence",
			nil, nil,
		),
		loadAvgMicros: prometheus.NewDesc(
			"plitka_load_avg_micros",
			"Average region load latency in microseconds",
			nil, nil,
		),
	}
}

func (ec *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- ec.regions
	ch <- ec.cacheRegions
	ch <- ec.cacheBytes
	ch <- ec.overRegions
	ch <- ec.overBytes
	ch <- ec.pendingFlush
	ch <- ec.loadAvgMicros
}

func (ec *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	s := ec.eng.Stats()

	ch <- prometheus.MustNewConstMetric(
		ec.regions,
		prometheus.GaugeValue,
		float64(s.Regions),
	)
	ch <- prometheus.MustNewConstMetric(
		ec.cacheRegions,
		prometheus.GaugeValue,
		float64(s.CacheRegions),
	)
	ch <- prometheus.MustNewConstMetric(
		ec.cacheBytes,
		prometheus.GaugeValue,
		float64(s.CacheBytes),
	)
	ch <- prometheus.MustNewConstMetric(
		ec.overRegions,
		prometheus.GaugeValue,
		float64(s.OverflowRegions),
	)
	ch <- prometheus.MustNewConstMetric(
		ec.overBytes,
		prometheus.GaugeValue,
		float64(s.OverflowBytes),
	)
	ch <- prometheus.MustNewConstMetric(
		ec.pendingFlush,
		prometheus.GaugeValue,
		float64(s.PendingFlush),
	)
	ch <- prometheus.MustNewConstMetric(
		ec.loadAvgMicros,
		prometheus.GaugeValue,
		s.LoadAvgMicros,
	)
}
