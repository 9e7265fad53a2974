package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollectorProviderObservations(t *testing.T) {
	c := NewCollector()

	c.ObserveRequest("attom", 80*time.Millisecond, 5)
	c.ObserveRequest("attom", 120*time.Millisecond, 5)
	c.ObserveError("attom", "provider_rate_limit")
	c.ObserveError("attom", "provider_rate_limit")
	c.ObserveError("attom", "provider_transient")

	snap := c.Snapshot()
	ps, ok := snap.Providers["attom"]
	assert.True(t, ok)
	assert.Equal(t, int64(2), ps.Requests)
	assert.Equal(t, int64(3), ps.Errors)
	assert.Equal(t, int64(10), ps.CostCentsTotal)
	assert.Equal(t, int64(100), ps.AvgLatencyMS)
	assert.Equal(t, int64(2), ps.ErrorsByClass["provider_rate_limit"])
	assert.Equal(t, int64(1), ps.ErrorsByClass["provider_transient"])
	assert.Equal(t, int64(1), ps.LatencyBuckets["le_100ms"])
	assert.Equal(t, int64(1), ps.LatencyBuckets["le_250ms"])
}

func TestCollectorLatencyOverflowBucket(t *testing.T) {
	c := NewCollector()

	c.ObserveRequest("skiptrace", 45*time.Second, 0)

	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.Providers["skiptrace"].LatencyBuckets["+inf"])
}

func TestCollectorCacheHitRatio(t *testing.T) {
	c := NewCollector()

	assert.Equal(t, float64(0), c.Snapshot().CacheHitRatio)

	c.ObserveCacheHit()
	c.ObserveCacheHit()
	c.ObserveCacheHit()
	c.ObserveCacheMiss()

	snap := c.Snapshot()
	assert.Equal(t, int64(3), snap.CacheHits)
	assert.Equal(t, int64(1), snap.CacheMisses)
	assert.InDelta(t, 0.75, snap.CacheHitRatio, 0.0001)
}

func TestCollectorDeliveryCounters(t *testing.T) {
	c := NewCollector()

	c.ObserveDelivery(true)
	c.ObserveDelivery(true)
	c.ObserveDelivery(false)
	c.ObserveDeliveryExhausted()

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.DeliverySuccess)
	assert.Equal(t, int64(1), snap.DeliveryFailed)
	assert.Equal(t, int64(1), snap.DeliveryExhausted)
}

func TestCollectorQuotaGauge(t *testing.T) {
	c := NewCollector()

	c.SetQuotaUsage("attom", 100)
	c.SetQuotaUsage("attom", 150)

	assert.Equal(t, int64(150), c.Snapshot().QuotaUsage["attom"])
}

func TestCollectorConcurrentAccess(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.ObserveRequest("attom", time.Millisecond, 1)
				c.ObserveCacheHit()
				c.ObserveDelivery(true)
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(1000), snap.Providers["attom"].Requests)
	assert.Equal(t, int64(1000), snap.CacheHits)
	assert.Equal(t, int64(1000), snap.DeliverySuccess)
}

func TestCollectorSnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	c.ObserveError("attom", "provider_transient")

	snap := c.Snapshot()
	snap.Providers["attom"].ErrorsByClass["provider_transient"] = 99

	assert.Equal(t, int64(1), c.Snapshot().Providers["attom"].ErrorsByClass["provider_transient"])
}
