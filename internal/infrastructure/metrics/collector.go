package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/halcyon-labs/entitycore/pkg/cache"
	"github.com/halcyon-labs/entitycore/pkg/cache/memorycache"
)

// Collector collects and aggregates metrics for the application.
type Collector struct {
	// Engine metrics, keyed by entity type
	saves   sync.Map // map[string]*uint64
	deletes sync.Map // map[string]*uint64
	queries sync.Map // map[string]*uint64

	// Background job metrics, keyed by job name
	jobsProcessed sync.Map // map[string]*uint64
	jobsFailed    sync.Map // map[string]*uint64

	// Cache reference (optional, for querying cache-specific metrics)
	cache cache.Cache
}

// CacheMetrics holds cache performance metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
}

// EngineMetrics holds persistence and query counters.
type EngineMetrics struct {
	SaveCounts   map[string]uint64
	DeleteCounts map[string]uint64
	QueryCounts  map[string]uint64
	JobCounts    map[string]uint64
	JobFailures  map[string]uint64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the cache instance for collecting cache metrics.
func (c *Collector) SetCache(cache cache.Cache) {
	c.cache = cache
}

// IncSaves records a completed entity save.
func (c *Collector) IncSaves(objType string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.saves, objType), 1)
}

// IncDeletes records a completed entity delete.
func (c *Collector) IncDeletes(objType string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.deletes, objType), 1)
}

// IncQueries records an executed query.
func (c *Collector) IncQueries(objType string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.queries, objType), 1)
}

// IncJobsProcessed records a successfully processed background job.
func (c *Collector) IncJobsProcessed(jobName string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.jobsProcessed, jobName), 1)
}

// IncJobsFailed records a background job that exhausted its attempts.
func (c *Collector) IncJobsFailed(jobName string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.jobsFailed, jobName), 1)
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{}
	}

	result := &CacheMetrics{
		Hits:      metrics.Hits,
		Misses:    metrics.Misses,
		HitRate:   metrics.HitRate(),
		Evictions: metrics.KeysEvicted,
	}

	// Get current keys and memory if available
	if memCache, ok := c.cache.(*memorycache.Cache); ok {
		result.KeysCurrent = int64(memCache.Len())
		result.MemoryBytes = memCache.Size()
	}

	return result
}

// GetEngineMetrics returns current persistence and query counters.
func (c *Collector) GetEngineMetrics() *EngineMetrics {
	result := &EngineMetrics{
		SaveCounts:   make(map[string]uint64),
		DeleteCounts: make(map[string]uint64),
		QueryCounts:  make(map[string]uint64),
		JobCounts:    make(map[string]uint64),
		JobFailures:  make(map[string]uint64),
	}
	collect := func(m *sync.Map, into map[string]uint64) {
		m.Range(func(key, value interface{}) bool {
			into[key.(string)] = atomic.LoadUint64(value.(*uint64))
			return true
		})
	}
	collect(&c.saves, result.SaveCounts)
	collect(&c.deletes, result.DeleteCounts)
	collect(&c.queries, result.QueryCounts)
	collect(&c.jobsProcessed, result.JobCounts)
	collect(&c.jobsFailed, result.JobFailures)
	return result
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}
