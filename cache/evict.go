package cache

import (
	"time"

	"github.com/Nathan-Paranhos/AithosRag-sub003/cache/policy"
)

// evictLocked makes room for incomingSize bytes and incomingCount entries.
// Expired entries go first. Then the LRU, LFU and priority passes take
// turns in that order, each removing one victim per round, until the limits
// hold. Every pass considers every entry.
//
// A size-triggered eviction frees down to headroom × MaxSize so that the
// next few writes do not evict again.
func (c *Cache[V]) evictLocked(now time.Time, incomingSize int64, incomingCount int) {
	sizeTriggered := c.totalSize+incomingSize > c.cfg.MaxSize
	countTriggered := len(c.entries)+incomingCount > c.cfg.MaxEntries
	if !sizeTriggered && !countTriggered {
		return
	}

	sizeTarget := c.cfg.MaxSize
	if sizeTriggered {
		sizeTarget = int64(float64(c.cfg.MaxSize) * headroom)
	}
	satisfied := func() bool {
		return len(c.entries)+incomingCount <= c.cfg.MaxEntries &&
			c.totalSize+incomingSize <= sizeTarget
	}

	before := len(c.entries)
	expired := c.removeExpiredLocked(now)

	evicted := 0
	passes := []policy.Policy[string]{c.lru, c.lfu, c.prio}
	for !satisfied() {
		progressed := false
		for _, p := range passes {
			if satisfied() {
				break
			}
			if c.evictOneLocked(p, now) {
				evicted++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	c.logger.Debug("evicted entries",
		"expired", expired,
		"evicted", evicted,
		"before", before,
		"after", len(c.entries),
		"size_triggered", sizeTriggered,
		"count_triggered", countTriggered,
	)
}

// evictOneLocked removes the next victim of p
func (c *Cache[V]) evictOneLocked(p policy.Policy[string], now time.Time) bool {
	for {
		key, ok := p.Evict()
		if !ok {
			return false
		}
		if e, exists := c.entries[key]; exists {
			c.removeLocked(e, EventEviction, now)
			c.metrics.RecordEviction()
			return true
		}
	}
}
