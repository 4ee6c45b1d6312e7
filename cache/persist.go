package cache

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/Nathan-Paranhos/AithosRag-sub003/storage"
	"github.com/Nathan-Paranhos/AithosRag-sub003/ttl"
)

// Snapshot is the persisted form of a cache
type Snapshot struct {
	Entries   []SnapshotEntry `json:"entries"`
	Stats     SnapshotStats   `json:"stats"`
	Timestamp time.Time       `json:"timestamp"`
}

// SnapshotEntry is one persisted entry. Value holds the JSON of the cached
// value, or a base64 string of its gzip when Compressed is set.
type SnapshotEntry struct {
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	Compressed   bool            `json:"compressed,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	TTLMillis    int64           `json:"ttl"`
	AccessCount  int64           `json:"accessCount"`
	LastAccessed time.Time       `json:"lastAccessed"`
	Size         int64           `json:"size"`
	Tags         []string        `json:"tags,omitempty"`
	Priority     Priority        `json:"priority"`
}

// TTL returns the entry TTL
func (e SnapshotEntry) TTL() time.Duration {
	return time.Duration(e.TTLMillis) * time.Millisecond
}

// SnapshotStats carries the counters at the time of the snapshot
type SnapshotStats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Sets       int64 `json:"sets"`
	Deletes    int64 `json:"deletes"`
	Evictions  int64 `json:"evictions"`
	TotalSize  int64 `json:"totalSize"`
	EntryCount int   `json:"entryCount"`
}

// ReadSnapshot loads the snapshot of the named cache from s
func ReadSnapshot(ctx context.Context, s storage.Storage, name string) (*Snapshot, error) {
	data, err := s.Get(ctx, storage.CacheKey(name))
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.WrapError("ReadSnapshot", name, errors.Join(errors.ErrDeserialization, err))
	}
	return &snap, nil
}

func (c *Cache[V]) persistent() bool {
	return c.cfg.Persistent && c.store != nil
}

// persistLocked rewrites the snapshot. On failure it drops expired entries
// and retries once; a second failure switches the cache to memory-only mode.
// Failures never reach the caller.
func (c *Cache[V]) persistLocked(ctx context.Context) {
	if !c.persistent() || c.memoryOnly {
		return
	}
	ctx = context.WithoutCancel(ctx)

	err := c.writeSnapshotLocked(ctx)
	c.metrics.RecordPersist(err)
	if err == nil {
		return
	}
	c.logger.Warn("snapshot write failed, dropping expired entries and retrying", "error", err)

	c.removeExpiredLocked(c.now())
	err = c.writeSnapshotLocked(ctx)
	c.metrics.RecordPersist(err)
	if err == nil {
		return
	}
	c.memoryOnly = true
	c.logger.Warn("snapshot write failed again, cache is now memory-only", "error", err)
}

func (c *Cache[V]) writeSnapshotLocked(ctx context.Context) error {
	snap := Snapshot{
		Entries:   make([]SnapshotEntry, 0, len(c.entries)),
		Timestamp: c.now(),
	}
	for _, e := range c.entries {
		se := SnapshotEntry{
			Key:          e.key,
			Value:        e.raw,
			CreatedAt:    e.createdAt,
			TTLMillis:    e.ttl.Milliseconds(),
			AccessCount:  e.accessCount,
			LastAccessed: e.lastAccessed,
			Size:         e.size,
			Tags:         e.tagList(),
			Priority:     e.priority,
		}
		if c.cfg.Compression && len(e.raw) > c.cfg.CompressionThreshold {
			packed, err := compressValue(e.raw)
			if err != nil {
				c.logger.Warn("compression failed, storing value uncompressed", "key", e.key, "error", err)
			} else {
				se.Value = packed
				se.Compressed = true
				c.metrics.RecordCompression(len(e.raw), len(packed))
			}
		}
		snap.Entries = append(snap.Entries, se)
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Key < snap.Entries[j].Key })

	m := c.metrics.GetSnapshot()
	snap.Stats = SnapshotStats{
		Hits:       m.Hits,
		Misses:     m.Misses,
		Sets:       m.Sets,
		Deletes:    m.Deletes,
		Evictions:  m.Evictions,
		TotalSize:  c.totalSize,
		EntryCount: len(c.entries),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return errors.WrapError("persist", c.name, errors.Join(errors.ErrSerialization, err))
	}
	return c.store.Set(ctx, storage.CacheKey(c.name), data)
}

// load restores a snapshot younger than SnapshotMaxAge, skipping expired
// entries and resetting access counters
func (c *Cache[V]) load(ctx context.Context) {
	snap, err := ReadSnapshot(ctx, c.store, c.name)
	if err != nil {
		if !errors.IsKeyNotFound(err) {
			c.logger.Warn("could not read snapshot, starting empty", "error", err)
		}
		return
	}

	now := c.now()
	if age := now.Sub(snap.Timestamp); age >= SnapshotMaxAge {
		c.logger.Info("discarding stale snapshot", "age", age)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	loaded, skipped := 0, 0
	for _, se := range snap.Entries {
		if se.Key == "" || ttl.Expired(se.CreatedAt, se.TTL(), now) {
			skipped++
			continue
		}
		raw := []byte(se.Value)
		if se.Compressed {
			raw, err = decompressValue(se.Value)
			if err != nil {
				c.logger.Warn("skipping undecodable entry", "key", se.Key, "error", err)
				skipped++
				continue
			}
			c.metrics.RecordDecompression()
		}

		var v V
		if err := json.Unmarshal(raw, &v); err != nil {
			c.logger.Warn("skipping undecodable entry", "key", se.Key, "error", err)
			skipped++
			continue
		}

		e := &entry[V]{
			key:          se.Key,
			value:        v,
			raw:          raw,
			createdAt:    se.CreatedAt,
			ttl:          se.TTL(),
			lastAccessed: se.LastAccessed,
			size:         int64(len(se.Key) + len(raw)),
			tags:         make(map[string]struct{}, len(se.Tags)),
			priority:     se.Priority,
		}
		for _, t := range se.Tags {
			e.tags[t] = struct{}{}
		}
		if old, ok := c.entries[e.key]; ok {
			c.detachLocked(old)
		}
		c.attachLocked(e)
		loaded++
	}

	// a snapshot written under larger limits is trimmed to the current ones
	c.evictLocked(now, 0, 0)
	c.pending = nil
	c.metrics.UpdateSize(int64(len(c.entries)))
	c.metrics.UpdateMemory(c.totalSize)

	c.logger.Debug("loaded snapshot", "entries", loaded, "skipped", skipped)
}
