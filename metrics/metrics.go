// Package metrics provides functionality for collecting and reporting the
// performance of the cache, batcher, sync queue and connectivity monitor.
package metrics

import (
	"sync/atomic"
	"time"
)

// CacheMetrics holds the counters of one cache instance
type CacheMetrics struct {
	// Basic Cache Metrics
	Size              atomic.Int64
	Hits              atomic.Int64
	Misses            atomic.Int64
	Sets              atomic.Int64
	Deletes           atomic.Int64
	Evictions         atomic.Int64
	Expirations       atomic.Int64
	MemoryUsage       atomic.Int64
	LastOperationTime atomic.Value // time.Time

	// Access timing, used for the average access time
	AccessCount   atomic.Int64
	AccessNanos   atomic.Int64
	SlowestAccess atomic.Int64

	// Compression Metrics
	CompressedItems   atomic.Int64
	DecompressedItems atomic.Int64
	CompressedBytes   atomic.Int64
	UncompressedBytes atomic.Int64

	// Persistence
	Persists        atomic.Int64
	PersistFailures atomic.Int64
	LastPersist     atomic.Value // time.Time
}

// MetricsSnapshot is a thread-safe copy of metrics
type MetricsSnapshot struct {
	Size              int64
	Hits              int64
	Misses            int64
	Sets              int64
	Deletes           int64
	Evictions         int64
	Expirations       int64
	MemoryUsage       int64
	LastOperationTime time.Time

	AvgAccessTime time.Duration
	SlowestAccess time.Duration

	CompressedItems   int64
	DecompressedItems int64
	CompressionRatio  float64

	Persists        int64
	PersistFailures int64
	LastPersist     time.Time
}

// NewCacheMetrics creates a new CacheMetrics instance
func NewCacheMetrics() *CacheMetrics {
	metrics := &CacheMetrics{}
	metrics.LastOperationTime.Store(time.Time{})
	metrics.LastPersist.Store(time.Time{})
	return metrics
}

// GetSnapshot returns a thread-safe copy of current metrics
func (m *CacheMetrics) GetSnapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Size:              m.Size.Load(),
		Hits:              m.Hits.Load(),
		Misses:            m.Misses.Load(),
		Sets:              m.Sets.Load(),
		Deletes:           m.Deletes.Load(),
		Evictions:         m.Evictions.Load(),
		Expirations:       m.Expirations.Load(),
		MemoryUsage:       m.MemoryUsage.Load(),
		LastOperationTime: m.LastOperationTime.Load().(time.Time),
		SlowestAccess:     time.Duration(m.SlowestAccess.Load()),
		CompressedItems:   m.CompressedItems.Load(),
		DecompressedItems: m.DecompressedItems.Load(),
		Persists:          m.Persists.Load(),
		PersistFailures:   m.PersistFailures.Load(),
		LastPersist:       m.LastPersist.Load().(time.Time),
	}
	if n := m.AccessCount.Load(); n > 0 {
		s.AvgAccessTime = time.Duration(m.AccessNanos.Load() / n)
	}
	if raw := m.UncompressedBytes.Load(); raw > 0 {
		s.CompressionRatio = float64(m.CompressedBytes.Load()) / float64(raw)
	}
	return s
}

// RecordHit records a cache hit
func (m *CacheMetrics) RecordHit() {
	m.Hits.Add(1)
	m.LastOperationTime.Store(time.Now())
}

// RecordMiss records a cache miss
func (m *CacheMetrics) RecordMiss() {
	m.Misses.Add(1)
	m.LastOperationTime.Store(time.Now())
}

// RecordSet records a write
func (m *CacheMetrics) RecordSet() {
	m.Sets.Add(1)
	m.LastOperationTime.Store(time.Now())
}

// RecordDelete records an explicit removal
func (m *CacheMetrics) RecordDelete() {
	m.Deletes.Add(1)
}

// RecordEviction records a cache eviction
func (m *CacheMetrics) RecordEviction() {
	m.Evictions.Add(1)
}

// RecordExpiration records the removal of an expired entry
func (m *CacheMetrics) RecordExpiration() {
	m.Expirations.Add(1)
}

// RecordAccess records the duration of a read
func (m *CacheMetrics) RecordAccess(d time.Duration) {
	m.AccessCount.Add(1)
	m.AccessNanos.Add(int64(d))
	for {
		cur := m.SlowestAccess.Load()
		if int64(d) <= cur || m.SlowestAccess.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

// RecordCompression records one value compressed from raw to packed bytes
func (m *CacheMetrics) RecordCompression(raw, packed int) {
	m.CompressedItems.Add(1)
	m.UncompressedBytes.Add(int64(raw))
	m.CompressedBytes.Add(int64(packed))
}

// RecordDecompression records one value restored from a snapshot
func (m *CacheMetrics) RecordDecompression() {
	m.DecompressedItems.Add(1)
}

// RecordPersist records the outcome of a snapshot write
func (m *CacheMetrics) RecordPersist(err error) {
	if err != nil {
		m.PersistFailures.Add(1)
		return
	}
	m.Persists.Add(1)
	m.LastPersist.Store(time.Now())
}

// UpdateSize updates the current entry count
func (m *CacheMetrics) UpdateSize(size int64) {
	m.Size.Store(size)
}

// UpdateMemory updates the current byte estimate
func (m *CacheMetrics) UpdateMemory(bytes int64) {
	m.MemoryUsage.Store(bytes)
}

// HitRatio returns the cache hit ratio
func (m *CacheMetrics) HitRatio() float64 {
	hits := m.Hits.Load()
	total := hits + m.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Reset resets all metrics to zero
func (m *CacheMetrics) Reset() {
	m.Size.Store(0)
	m.Hits.Store(0)
	m.Misses.Store(0)
	m.Sets.Store(0)
	m.Deletes.Store(0)
	m.Evictions.Store(0)
	m.Expirations.Store(0)
	m.MemoryUsage.Store(0)
	m.LastOperationTime.Store(time.Time{})
	m.AccessCount.Store(0)
	m.AccessNanos.Store(0)
	m.SlowestAccess.Store(0)
	m.CompressedItems.Store(0)
	m.DecompressedItems.Store(0)
	m.CompressedBytes.Store(0)
	m.UncompressedBytes.Store(0)
	m.Persists.Store(0)
	m.PersistFailures.Store(0)
	m.LastPersist.Store(time.Time{})
}
