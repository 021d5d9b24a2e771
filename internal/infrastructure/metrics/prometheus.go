package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	// Prometheus metrics
	cacheHitRate     prometheus.Gauge
	cacheKeys        prometheus.Gauge
	cacheMemoryBytes prometheus.Gauge
	entitySaves      *prometheus.CounterVec
	entityDeletes    *prometheus.CounterVec
	entityQueries    *prometheus.CounterVec
	jobsProcessed    *prometheus.CounterVec
	jobsFailed       *prometheus.CounterVec

	// last exported counter values, so Update can add deltas to the
	// monotonic Prometheus counters
	lastExported *EngineMetrics
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return &PrometheusExporter{
		collector: collector,
		cacheHitRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "entitycore_cache_hit_rate",
			Help: "Current schema/moved cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "entitycore_cache_keys_current",
			Help: "Current number of cached keys",
		}),
		cacheMemoryBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "entitycore_cache_memory_bytes",
			Help: "Current memory usage of the cache in bytes",
		}),
		entitySaves: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitycore_entity_saves_total",
				Help: "Total number of entity saves",
			},
			[]string{"obj_type"},
		),
		entityDeletes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitycore_entity_deletes_total",
				Help: "Total number of entity deletes",
			},
			[]string{"obj_type"},
		),
		entityQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitycore_entity_queries_total",
				Help: "Total number of executed entity queries",
			},
			[]string{"obj_type"},
		),
		jobsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitycore_jobs_processed_total",
				Help: "Total number of processed background jobs",
			},
			[]string{"job"},
		),
		jobsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitycore_jobs_failed_total",
				Help: "Total number of background jobs that exhausted retries",
			},
			[]string{"job"},
		),
		lastExported: &EngineMetrics{
			SaveCounts:   map[string]uint64{},
			DeleteCounts: map[string]uint64{},
			QueryCounts:  map[string]uint64{},
			JobCounts:    map[string]uint64{},
			JobFailures:  map[string]uint64{},
		},
	}
}

// Update pushes the collector's current state into the Prometheus
// registry. Called periodically (e.g., every 10 seconds); not safe for
// concurrent callers.
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(cacheMetrics.MemoryBytes))

	current := e.collector.GetEngineMetrics()
	exportDelta(e.entitySaves, current.SaveCounts, e.lastExported.SaveCounts)
	exportDelta(e.entityDeletes, current.DeleteCounts, e.lastExported.DeleteCounts)
	exportDelta(e.entityQueries, current.QueryCounts, e.lastExported.QueryCounts)
	exportDelta(e.jobsProcessed, current.JobCounts, e.lastExported.JobCounts)
	exportDelta(e.jobsFailed, current.JobFailures, e.lastExported.JobFailures)
	e.lastExported = current
}

func exportDelta(vec *prometheus.CounterVec, current, last map[string]uint64) {
	for label, count := range current {
		if delta := count - last[label]; delta > 0 {
			vec.WithLabelValues(label).Add(float64(delta))
		}
	}
}
