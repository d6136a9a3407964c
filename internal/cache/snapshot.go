package cache

// Snapshot is a point-in-time read of the cache's counters, consumed by
// the STATS wire command (spec.md §4.5) and by internal/metrics'
// Prometheus collector.
type Snapshot struct {
	ItemsCount      int64
	MemoryUsed      int64
	PeakMemory      int64
	CompressedCount int64
	EvictedCount    int64
	ExpiredCount    int64
	OOMCount        int64
	LockedCount     int64
	AverageItemSize int64
}

// Stats takes a consistent-enough snapshot of the cache's running
// counters. Because only the dispatcher goroutine ever calls Cache's
// mutating methods, no snapshot ever races a write; the atomics exist so
// cron and the admin HTTP surface (a different goroutine) can read them
// without blocking the dispatcher.
func (c *Cache) Stats() Snapshot {
	items := c.itemsCount.Load()
	var avg int64
	if items > 0 {
		avg = c.sizeTotal.Load() / items
	}
	return Snapshot{
		ItemsCount:      items,
		MemoryUsed:      c.memoryUsed.Load(),
		PeakMemory:      c.peakMemory.Load(),
		CompressedCount: c.compressedCount.Load(),
		EvictedCount:    c.evictedCount.Load(),
		ExpiredCount:    c.expiredCount.Load(),
		OOMCount:        c.oomCount.Load(),
		LockedCount:     c.lockedCount.Load(),
		AverageItemSize: avg,
	}
}
