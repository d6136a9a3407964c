package cache

import "github.com/gibson-cache/gibson/internal/store"

// ExpireTTL drops every item whose TTL has elapsed. internal/cron calls
// this on its ~15s cadence (spec.md §5 "TTL sweep"); Get/Set/etc. also
// expire lazily on touch, so this pass only ever catches items nobody
// has read since they expired.
func (c *Cache) ExpireTTL() (removed int) {
	now := c.now()
	return c.tree.Recurse(c.tree.Root(), nil, func(key []byte, item *store.Item) bool {
		if !item.Expired(now) {
			return false
		}
		c.accountRemoval(key, item)
		c.expiredCount.Add(1)
		removed++
		return true
	})
}

// EvictStale reclaims memory when the cache is over its soft budget
// (spec.md §5 "memory-pressure eviction", invariant 5). It first tries
// the cheap LRU-ordered shortlist from internal/index; if that alone
// doesn't bring memoryUsed back under budget it falls back to a full
// Recurse pass, matching the original's unconditional full-tree sweep
// every time it is triggered.
func (c *Cache) EvictStale() (freedBytes int64, freedCount int) {
	return c.evictStaleUntil(c.cfg.MaxMemory)
}

// evictStaleUntil is EvictStale with an explicit target: it stops as soon
// as memoryUsed is at or below target. ensureBudget passes MaxMemory minus
// the bytes a pending write needs.
func (c *Cache) evictStaleUntil(target int64) (freedBytes int64, freedCount int) {
	if c.cfg.MaxMemory <= 0 {
		return 0, 0
	}
	before := c.memoryUsed.Load()
	now := c.now().Unix()

	for _, key := range c.tree.StaleCandidates(now, c.cfg.GCRatio, 4096) {
		if c.memoryUsed.Load() <= target {
			break
		}
		item, ok := c.lookupLive(key)
		if !ok || !item.Stale(c.now(), c.cfg.GCRatio) {
			continue
		}
		c.tree.Remove(key)
		c.accountRemoval(key, item)
		c.evictedCount.Add(1)
		freedCount++
	}

	if c.memoryUsed.Load() > target {
		freedCount += c.tree.Recurse(c.tree.Root(), nil, func(key []byte, item *store.Item) bool {
			if c.memoryUsed.Load() <= target {
				return false
			}
			if !item.Stale(c.now(), c.cfg.GCRatio) {
				return false
			}
			c.accountRemoval(key, item)
			c.evictedCount.Add(1)
			return true
		})
	}

	freedBytes = before - c.memoryUsed.Load()
	return freedBytes, freedCount
}
