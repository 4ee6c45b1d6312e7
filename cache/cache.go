// Package cache provides the adaptive cache engine: named, generic caches with
// per-entry TTL, tags and priority, a fixed multi-pass eviction strategy and
// optional snapshots to durable storage.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Nathan-Paranhos/AithosRag-sub003/cache/policy"
	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/Nathan-Paranhos/AithosRag-sub003/internal"
	"github.com/Nathan-Paranhos/AithosRag-sub003/metrics"
	"github.com/Nathan-Paranhos/AithosRag-sub003/storage"
	"github.com/Nathan-Paranhos/AithosRag-sub003/ttl"
)

// Priority ranks entries for eviction
type Priority = policy.Priority

// Entry priorities
const (
	PriorityLow      = policy.Low
	PriorityMedium   = policy.Medium
	PriorityHigh     = policy.High
	PriorityCritical = policy.Critical
)

// EventType represents the type of cache event
type EventType int

const (
	EventSet EventType = iota
	EventDelete
	EventEviction
	EventExpiration
	EventClear
)

// String returns the string representation of EventType
func (t EventType) String() string {
	switch t {
	case EventSet:
		return "set"
	case EventDelete:
		return "delete"
	case EventEviction:
		return "eviction"
	case EventExpiration:
		return "expiration"
	case EventClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Event represents a change that occurred in the cache
type Event[V any] struct {
	Type      EventType
	Key       string
	Value     V
	Timestamp time.Time
}

// EntryInfo describes an entry without its value
type EntryInfo struct {
	Key          string
	Size         int64
	Priority     Priority
	Tags         []string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
}

// Stats is a point-in-time view of a cache
type Stats struct {
	Hits          int64
	Misses        int64
	Sets          int64
	Deletes       int64
	Evictions     int64
	Expirations   int64
	TotalSize     int64
	EntryCount    int
	HitRate       float64
	AvgAccessTime time.Duration
	MemoryOnly    bool
}

// entry is a cached value with its metadata; raw is the JSON encoding of value
type entry[V any] struct {
	key          string
	value        V
	raw          []byte
	createdAt    time.Time
	ttl          time.Duration
	accessCount  int64
	lastAccessed time.Time
	size         int64
	tags         map[string]struct{}
	priority     Priority
}

func (e *entry[V]) meta() policy.Meta {
	return policy.Meta{
		Priority:     e.priority,
		AccessCount:  e.accessCount,
		LastAccessed: e.lastAccessed,
	}
}

func (e *entry[V]) expired(now time.Time) bool {
	return ttl.Expired(e.createdAt, e.ttl, now)
}

func (e *entry[V]) tagList() []string {
	tags := make([]string, 0, len(e.tags))
	for t := range e.tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Cache is a named cache of V values keyed by string. All methods are safe for
// concurrent use; a Set followed by a Get on the same key observes the write.
type Cache[V any] struct {
	name    string
	cfg     Config
	store   storage.Storage
	logger  *slog.Logger
	now     internal.Clock
	metrics metrics.MetricsExporter

	mu         sync.Mutex
	entries    map[string]*entry[V]
	tags       map[string]map[string]struct{}
	totalSize  int64
	lru        *policy.LRU[string]
	lfu        *policy.LFU[string]
	prio       *policy.PriorityPolicy[string]
	memoryOnly bool
	pending    []Event[V]

	events *internal.Topic[Event[V]]
	group  singleflight.Group

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates the cache called name. When persistence is enabled a snapshot
// younger than SnapshotMaxAge is loaded before New returns.
func New[V any](name string, opts ...Option) (*Cache[V], error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if name == "" {
		return nil, errors.WrapError("New", name, errors.ErrInvalidKey)
	}
	if err := options.Config.validate(); err != nil {
		return nil, err
	}
	if options.Metrics == nil {
		options.Metrics = metrics.NewCacheMetrics()
	}

	c := &Cache[V]{
		name:    name,
		cfg:     options.Config,
		store:   options.Storage,
		logger:  options.Logger.With("component", "cache", "cache", name),
		now:     options.Clock.OrSystem(),
		metrics: options.Metrics,
		entries: make(map[string]*entry[V]),
		tags:    make(map[string]map[string]struct{}),
		lru:     policy.NewLRU[string](),
		lfu:     policy.NewLFU[string](),
		prio:    policy.NewPriority[string](),
		events:  internal.NewTopic[Event[V]](options.MaxSubscribers),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if c.persistent() {
		c.load(context.Background())
	}

	if c.cfg.CleanupInterval > 0 {
		go c.sweepLoop()
	} else {
		close(c.done)
	}
	return c, nil
}

// Name returns the cache name
func (c *Cache[V]) Name() string {
	return c.name
}

// Config returns the cache configuration
func (c *Cache[V]) Config() Config {
	return c.cfg
}

// Get returns the live value of key. Reading an expired entry removes it.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if c.closed.Load() || ctx.Err() != nil {
		return zero, false
	}
	start := time.Now()

	c.mu.Lock()
	v, ok := c.getLocked(ctx, key, true)
	c.metrics.RecordAccess(time.Since(start))
	c.unlockAndPublish()
	return v, ok
}

func (c *Cache[V]) getLocked(ctx context.Context, key string, record bool) (V, bool) {
	var zero V
	e, ok := c.entries[key]
	if !ok {
		if record {
			c.metrics.RecordMiss()
		}
		return zero, false
	}

	now := c.now()
	if e.expired(now) {
		c.removeLocked(e, EventExpiration, now)
		c.metrics.RecordExpiration()
		c.persistLocked(ctx)
		if record {
			c.metrics.RecordMiss()
		}
		return zero, false
	}

	e.accessCount++
	e.lastAccessed = now
	m := e.meta()
	c.lru.OnGet(key, m)
	c.lfu.OnGet(key, m)
	c.prio.OnGet(key, m)
	if record {
		c.metrics.RecordHit()
	}
	return e.value, true
}

// Set stores value under key, evicting other entries first when the cache
// would exceed MaxSize or MaxEntries. Only a value that could never fit is
// rejected.
func (c *Cache[V]) Set(ctx context.Context, key string, value V, opts ...EntryOption) error {
	if c.closed.Load() {
		return errors.WrapError("Set", key, errors.ErrCacheClosed)
	}
	if ctx.Err() != nil {
		return errors.WrapError("Set", key, errors.ErrContextCanceled)
	}
	if key == "" {
		return errors.WrapError("Set", key, errors.ErrInvalidKey)
	}

	eo := EntryOptions{Priority: PriorityMedium}
	for _, opt := range opts {
		opt(&eo)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return errors.WrapError("Set", key, errors.Join(errors.ErrSerialization, err))
	}
	size := int64(len(key) + len(raw))
	if size > c.cfg.MaxSize {
		return errors.WrapError("Set", key, errors.ErrEntryTooLarge)
	}

	d := eo.TTL
	if d < 0 {
		d = 0
	}
	d = ttl.Resolve(d, c.cfg.ttlConfig())

	c.mu.Lock()
	defer c.unlockAndPublish()

	now := c.now()
	if old, ok := c.entries[key]; ok {
		c.detachLocked(old)
	}
	c.evictLocked(now, size, 1)

	e := &entry[V]{
		key:          key,
		value:        value,
		raw:          raw,
		createdAt:    now,
		ttl:          d,
		lastAccessed: now,
		size:         size,
		tags:         make(map[string]struct{}, len(eo.Tags)),
		priority:     eo.Priority,
	}
	for _, t := range eo.Tags {
		e.tags[t] = struct{}{}
	}
	c.attachLocked(e)
	c.metrics.RecordSet()
	c.pending = append(c.pending, Event[V]{Type: EventSet, Key: key, Value: value, Timestamp: now})

	c.persistLocked(ctx)
	return nil
}

// Delete removes key and reports whether it was present
func (c *Cache[V]) Delete(ctx context.Context, key string) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	defer c.unlockAndPublish()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(e, EventDelete, c.now())
	c.metrics.RecordDelete()
	c.persistLocked(ctx)
	return true
}

// Has reports whether key holds a live value. It does not count as an access.
func (c *Cache[V]) Has(ctx context.Context, key string) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return ok && !e.expired(c.now())
}

// Clear removes every entry
func (c *Cache[V]) Clear(ctx context.Context) {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	defer c.unlockAndPublish()

	c.entries = make(map[string]*entry[V])
	c.tags = make(map[string]map[string]struct{})
	c.totalSize = 0
	c.lru.OnClear()
	c.lfu.OnClear()
	c.prio.OnClear()
	c.pending = append(c.pending, Event[V]{Type: EventClear, Timestamp: c.now()})
	c.persistLocked(ctx)
}

// GetByTag returns the live values tagged with tag, ordered by key
func (c *Cache[V]) GetByTag(ctx context.Context, tag string) []V {
	if c.closed.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.unlockAndPublish()

	keys := sortedKeys(c.tags[tag])
	values := make([]V, 0, len(keys))
	for _, key := range keys {
		if v, ok := c.getLocked(ctx, key, true); ok {
			values = append(values, v)
		}
	}
	return values
}

// DeleteByTag removes every entry tagged with tag and returns how many were removed
func (c *Cache[V]) DeleteByTag(ctx context.Context, tag string) int {
	if c.closed.Load() {
		return 0
	}
	c.mu.Lock()
	defer c.unlockAndPublish()

	keys := sortedKeys(c.tags[tag])
	now := c.now()
	for _, key := range keys {
		c.removeLocked(c.entries[key], EventDelete, now)
		c.metrics.RecordDelete()
	}
	if len(keys) > 0 {
		c.persistLocked(ctx)
	}
	return len(keys)
}

// GetOrSet returns the live value of key or stores the result of factory.
// Concurrent callers for the same key share one factory call; a factory
// error is returned unchanged and nothing is stored.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, factory func(context.Context) (V, error), opts ...EntryOption) (V, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		v, ok := c.getLocked(ctx, key, false)
		c.unlockAndPublish()
		if ok {
			return v, nil
		}

		v, err := factory(ctx)
		if err != nil {
			return v, err
		}
		if err := c.Set(ctx, key, v, opts...); err != nil {
			return v, err
		}
		return v, nil
	})
	v, _ := res.(V)
	return v, err
}

// GetMany returns the live values of keys; missing keys are absent from the result
func (c *Cache[V]) GetMany(ctx context.Context, keys []string) map[string]V {
	result := make(map[string]V, len(keys))
	if c.closed.Load() || len(keys) == 0 {
		return result
	}
	c.mu.Lock()
	defer c.unlockAndPublish()

	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		if v, ok := c.getLocked(ctx, key, true); ok {
			result[key] = v
		}
	}
	return result
}

// Entries describes the stored entries, ordered by key
func (c *Cache[V]) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]EntryInfo, 0, len(c.entries))
	for _, e := range c.entries {
		infos = append(infos, EntryInfo{
			Key:          e.key,
			Size:         e.size,
			Priority:     e.priority,
			Tags:         e.tagList(),
			CreatedAt:    e.createdAt,
			ExpiresAt:    ttl.ExpiresAt(e.createdAt, e.ttl),
			AccessCount:  e.accessCount,
			LastAccessed: e.lastAccessed,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// Stats returns the current statistics
func (c *Cache[V]) Stats() Stats {
	snap := c.metrics.GetSnapshot()

	c.mu.Lock()
	s := Stats{
		Hits:          snap.Hits,
		Misses:        snap.Misses,
		Sets:          snap.Sets,
		Deletes:       snap.Deletes,
		Evictions:     snap.Evictions,
		Expirations:   snap.Expirations,
		TotalSize:     c.totalSize,
		EntryCount:    len(c.entries),
		AvgAccessTime: snap.AvgAccessTime,
		MemoryOnly:    c.memoryOnly,
	}
	c.mu.Unlock()

	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Subscribe registers fn for cache events and returns the handle that removes it
func (c *Cache[V]) Subscribe(fn func(Event[V])) (func(), error) {
	return c.events.Subscribe(fn)
}

// Sweep removes every expired entry and returns how many were removed
func (c *Cache[V]) Sweep(ctx context.Context) int {
	if c.closed.Load() {
		return 0
	}
	c.mu.Lock()
	defer c.unlockAndPublish()

	n := c.removeExpiredLocked(c.now())
	if n > 0 {
		c.persistLocked(ctx)
	}
	return n
}

func (c *Cache[V]) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.Sweep(context.Background()); n > 0 {
				c.logger.Debug("swept expired entries", "removed", n)
			}
		}
	}
}

// Close stops the sweep and writes a final snapshot. Close is idempotent.
func (c *Cache[V]) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		<-c.done

		c.mu.Lock()
		c.persistLocked(context.Background())
		c.pending = nil
		c.mu.Unlock()

		c.events.Close()
	})
	return nil
}

// attachLocked indexes e
func (c *Cache[V]) attachLocked(e *entry[V]) {
	c.entries[e.key] = e
	c.totalSize += e.size
	for t := range e.tags {
		set, ok := c.tags[t]
		if !ok {
			set = make(map[string]struct{})
			c.tags[t] = set
		}
		set[e.key] = struct{}{}
	}
	m := e.meta()
	c.lru.OnSet(e.key, m)
	c.lfu.OnSet(e.key, m)
	c.prio.OnSet(e.key, m)
}

// detachLocked removes e from every index without reporting an event
func (c *Cache[V]) detachLocked(e *entry[V]) {
	delete(c.entries, e.key)
	c.totalSize -= e.size
	for t := range e.tags {
		if set, ok := c.tags[t]; ok {
			delete(set, e.key)
			if len(set) == 0 {
				delete(c.tags, t)
			}
		}
	}
	c.lru.OnDelete(e.key)
	c.lfu.OnDelete(e.key)
	c.prio.OnDelete(e.key)
}

func (c *Cache[V]) removeLocked(e *entry[V], reason EventType, now time.Time) {
	if e == nil {
		return
	}
	c.detachLocked(e)
	c.pending = append(c.pending, Event[V]{Type: reason, Key: e.key, Value: e.value, Timestamp: now})
}

func (c *Cache[V]) removeExpiredLocked(now time.Time) int {
	var expired []*entry[V]
	for _, e := range c.entries {
		if e.expired(now) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		c.removeLocked(e, EventExpiration, now)
		c.metrics.RecordExpiration()
	}
	return len(expired)
}

// unlockAndPublish releases mu and then delivers the events queued under it,
// so subscribers may call back into the cache
func (c *Cache[V]) unlockAndPublish() {
	events := c.pending
	c.pending = nil
	c.metrics.UpdateSize(int64(len(c.entries)))
	c.metrics.UpdateMemory(c.totalSize)
	c.mu.Unlock()

	for _, ev := range events {
		c.events.Publish(ev)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
