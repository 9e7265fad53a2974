// Package metrics provides an in-process metrics collector for the
// enrichment service: per-provider request/error/cost counters, latency
// histograms, cache hit ratio and quota gauges, delivery outcome counters.
// The snapshot is served as JSON on the admin surface and scraped by the
// external monitoring collector.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// latencyBuckets are the upper bounds (inclusive) of the latency histogram
// in milliseconds; the final bucket is unbounded.
var latencyBuckets = []int64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// providerStats aggregates per-provider observations.
type providerStats struct {
	Requests       int64
	Errors         int64
	ErrorsByClass  map[string]int64
	CostCentsTotal int64
	LatencyCounts  []int64
	LatencySumMS   int64
}

// Collector gathers process-wide metrics. Safe for concurrent use.
type Collector struct {
	mu sync.RWMutex

	providers map[string]*providerStats

	cacheHits   int64
	cacheMisses int64

	deliverySuccess   int64
	deliveryFailed    int64
	deliveryExhausted int64

	quotaUsage map[string]int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		providers:  make(map[string]*providerStats),
		quotaUsage: make(map[string]int64),
	}
}

func (c *Collector) provider(name string) *providerStats {
	stats, ok := c.providers[name]
	if !ok {
		stats = &providerStats{
			ErrorsByClass: make(map[string]int64),
			LatencyCounts: make([]int64, len(latencyBuckets)+1),
		}
		c.providers[name] = stats
	}
	return stats
}

// ObserveRequest records one provider call with its latency and cost.
func (c *Collector) ObserveRequest(provider string, latency time.Duration, costCents int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.provider(provider)
	stats.Requests++
	stats.CostCentsTotal += costCents

	ms := latency.Milliseconds()
	stats.LatencySumMS += ms
	stats.LatencyCounts[bucketIndex(ms)]++
}

// ObserveError records one classified provider failure.
func (c *Collector) ObserveError(provider, errorClass string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.provider(provider)
	stats.Errors++
	stats.ErrorsByClass[errorClass]++
}

// ObserveCacheHit records a result served from the cache.
func (c *Collector) ObserveCacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

// ObserveCacheMiss records a lookup that had to go to a provider.
func (c *Collector) ObserveCacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

// ObserveDelivery records a webhook delivery outcome.
func (c *Collector) ObserveDelivery(success bool) {
	c.mu.Lock()
	if success {
		c.deliverySuccess++
	} else {
		c.deliveryFailed++
	}
	c.mu.Unlock()
}

// ObserveDeliveryExhausted records a delivery giving up after the attempt cap.
func (c *Collector) ObserveDeliveryExhausted() {
	c.mu.Lock()
	c.deliveryExhausted++
	c.mu.Unlock()
}

// SetQuotaUsage updates a provider's quota gauge.
func (c *Collector) SetQuotaUsage(provider string, used int64) {
	c.mu.Lock()
	c.quotaUsage[provider] = used
	c.mu.Unlock()
}

// ProviderSnapshot is the per-provider section of a metrics snapshot.
type ProviderSnapshot struct {
	Requests       int64            `json:"requests"`
	Errors         int64            `json:"errors"`
	ErrorsByClass  map[string]int64 `json:"errors_by_class,omitempty"`
	CostCentsTotal int64            `json:"cost_cents_total"`
	AvgLatencyMS   int64            `json:"avg_latency_ms"`
	LatencyBuckets map[string]int64 `json:"latency_buckets"`
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Providers         map[string]ProviderSnapshot `json:"providers"`
	CacheHits         int64                       `json:"cache_hits"`
	CacheMisses       int64                       `json:"cache_misses"`
	CacheHitRatio     float64                     `json:"cache_hit_ratio"`
	DeliverySuccess   int64                       `json:"delivery_success"`
	DeliveryFailed    int64                       `json:"delivery_failed"`
	DeliveryExhausted int64                       `json:"delivery_exhausted"`
	QuotaUsage        map[string]int64            `json:"quota_usage"`
	GeneratedAt       time.Time                   `json:"generated_at"`
}

// Snapshot returns a consistent copy of the collector state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Providers:         make(map[string]ProviderSnapshot, len(c.providers)),
		CacheHits:         c.cacheHits,
		CacheMisses:       c.cacheMisses,
		DeliverySuccess:   c.deliverySuccess,
		DeliveryFailed:    c.deliveryFailed,
		DeliveryExhausted: c.deliveryExhausted,
		QuotaUsage:        make(map[string]int64, len(c.quotaUsage)),
		GeneratedAt:       time.Now().UTC(),
	}

	if total := c.cacheHits + c.cacheMisses; total > 0 {
		snap.CacheHitRatio = float64(c.cacheHits) / float64(total)
	}

	for name, stats := range c.providers {
		ps := ProviderSnapshot{
			Requests:       stats.Requests,
			Errors:         stats.Errors,
			ErrorsByClass:  make(map[string]int64, len(stats.ErrorsByClass)),
			CostCentsTotal: stats.CostCentsTotal,
			LatencyBuckets: bucketMap(stats.LatencyCounts),
		}
		if stats.Requests > 0 {
			ps.AvgLatencyMS = stats.LatencySumMS / stats.Requests
		}
		for class, count := range stats.ErrorsByClass {
			ps.ErrorsByClass[class] = count
		}
		snap.Providers[name] = ps
	}

	for provider, used := range c.quotaUsage {
		snap.QuotaUsage[provider] = used
	}

	return snap
}

func bucketIndex(ms int64) int {
	for i, bound := range latencyBuckets {
		if ms <= bound {
			return i
		}
	}
	return len(latencyBuckets)
}

func bucketMap(counts []int64) map[string]int64 {
	m := make(map[string]int64, len(counts))
	for i, count := range counts {
		if count == 0 {
			continue
		}
		if i < len(latencyBuckets) {
			m[formatBucket(latencyBuckets[i])] = count
		} else {
			m["+inf"] = count
		}
	}
	return m
}

func formatBucket(bound int64) string {
	return "le_" + strconv.FormatInt(bound, 10) + "ms"
}
