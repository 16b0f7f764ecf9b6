// Package metrics exposes Prometheus instruments for the distribution
// engine. Counters are driven by the event bus; gauges are refreshed
// from engine snapshots.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"meridian/pkg/accesslog"
	"meridian/pkg/catalog"
	"meridian/pkg/events"
	"meridian/pkg/registry"
)

// Metrics tracks engine-wide metrics
type Metrics struct {
	// Catalog metrics
	AssetsTotal   prometheus.Gauge
	VariantsTotal prometheus.Gauge
	CatalogBytes  prometheus.Gauge
	AssetsAdded   prometheus.Counter
	AssetsPurged  prometheus.Counter

	// Node metrics
	NodesTotal       prometheus.Gauge
	NodesActive      prometheus.Gauge
	NodeCapacityUsed prometheus.Gauge

	// Distribution metrics
	Distributions    prometheus.Counter
	ReplicasPlaced   prometheus.Counter
	OptimizationRuns prometheus.Counter
	ResyncedAssets   prometheus.Counter

	// Serving metrics
	RequestsServed prometheus.Counter
	CacheHitRate   prometheus.Gauge
	AvgLatencyMS   prometheus.Gauge
}

// New creates and registers Prometheus metrics
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &Metrics{
		AssetsTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "meridian_assets_total",
			Help: "Number of assets in the catalog",
		}),
		VariantsTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "meridian_variants_total",
			Help: "Number of generated asset variants",
		}),
		CatalogBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "meridian_catalog_bytes",
			Help: "Total bytes of original assets in the catalog",
		}),
		AssetsAdded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meridian_assets_added_total",
			Help: "Total number of assets added",
		}),
		AssetsPurged: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meridian_assets_purged_total",
			Help: "Total number of assets purged",
		}),

		NodesTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "meridian_nodes_total",
			Help: "Number of registered delivery nodes",
		}),
		NodesActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "meridian_nodes_active",
			Help: "Number of active delivery nodes",
		}),
		NodeCapacityUsed: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "meridian_node_capacity_used_ratio",
			Help: "Fleet-wide storage utilization (0-1)",
		}),

		Distributions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meridian_distributions_total",
			Help: "Total number of distribution runs",
		}),
		ReplicasPlaced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meridian_replicas_placed_total",
			Help: "Total number of asset replicas placed on nodes",
		}),
		OptimizationRuns: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meridian_optimization_runs_total",
			Help: "Total number of distribution optimization passes that promoted assets",
		}),
		ResyncedAssets: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meridian_resynced_assets_total",
			Help: "Total number of assets re-synced after failure or staleness",
		}),

		RequestsServed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meridian_requests_served_total",
			Help: "Total number of resolved serving requests",
		}),
		CacheHitRate: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "meridian_cache_hit_rate",
			Help: "Cache hit rate over the retained access log (0-1)",
		}),
		AvgLatencyMS: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "meridian_avg_latency_ms",
			Help: "Average serving latency over the retained access log",
		}),
	}
}

// Observe wires the counters to bus events.
func (m *Metrics) Observe(bus *events.Bus) {
	bus.Subscribe(func(e events.Event) {
		switch e.Type {
		case events.AssetAdded:
			m.AssetsAdded.Inc()
		case events.AssetPurged:
			m.AssetsPurged.Inc()
		case events.AssetDistributed:
			m.Distributions.Inc()
			m.ReplicasPlaced.Add(float64(len(e.Nodes)))
		case events.AssetServed:
			m.RequestsServed.Inc()
		case events.DistributionOptimized:
			m.OptimizationRuns.Inc()
		case events.AssetsSynced:
			if n, ok := e.Detail["count"].(int); ok {
				m.ResyncedAssets.Add(float64(n))
			}
		}
	})
}

// Refresh updates the gauges from current snapshots. Called from the
// telemetry loop and before scraping.
func (m *Metrics) Refresh(cat catalog.Stats, nodes registry.Aggregates, traffic accesslog.Summary) {
	m.AssetsTotal.Set(float64(cat.Assets))
	m.VariantsTotal.Set(float64(cat.Variants))
	m.CatalogBytes.Set(float64(cat.TotalBytes))

	m.NodesTotal.Set(float64(nodes.TotalNodes))
	m.NodesActive.Set(float64(nodes.ActiveNodes))
	if nodes.CapacityBytes > 0 {
		m.NodeCapacityUsed.Set(float64(nodes.UsedBytes) / float64(nodes.CapacityBytes))
	}

	m.CacheHitRate.Set(traffic.HitRate)
	m.AvgLatencyMS.Set(traffic.AvgLatencyMS)
}
