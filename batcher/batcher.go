// Package batcher groups API requests issued close together, resolves what
// it can from the response cache and collapses identical GETs into a single
// network call.
package batcher

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Nathan-Paranhos/AithosRag-sub003/cache"
	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/Nathan-Paranhos/AithosRag-sub003/internal"
	"github.com/Nathan-Paranhos/AithosRag-sub003/metrics"
	"github.com/Nathan-Paranhos/AithosRag-sub003/transport"
)

// Priority orders the members of a batch at flush time
type Priority int

const (
	// PriorityLow requests are served last
	PriorityLow Priority = iota
	// PriorityNormal is the default
	PriorityNormal
	// PriorityHigh requests are served first
	PriorityHigh
)

// String returns the string representation of Priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// State is the lifecycle position of a batch key
type State int

const (
	// StateIdle means no request is queued or being flushed
	StateIdle State = iota
	// StateQueuing means requests are waiting for the batch to flush
	StateQueuing
	// StateFlushing means a flush for the key is in progress
	StateFlushing
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateQueuing:
		return "queuing"
	case StateFlushing:
		return "flushing"
	default:
		return "idle"
	}
}

// Executor performs a single API call; *transport.Client satisfies it
type Executor interface {
	Execute(ctx context.Context, req transport.Request) (json.RawMessage, error)
}

// RequestOptions describes the HTTP call of a request
type RequestOptions struct {
	Method string
	Header http.Header
	Body   json.RawMessage
}

// Request is a queued API call
type Request struct {
	ID       string
	URL      string
	Options  RequestOptions
	Priority Priority
	Arrived  time.Time

	done chan result
}

type result struct {
	body json.RawMessage
	err  error
}

// resolve delivers the outcome; a request is resolved at most once
func (r *Request) resolve(body json.RawMessage, err error) {
	select {
	case r.done <- result{body: body, err: err}:
	default:
	}
}

// cacheKey is the canonical identity of the call: method, url and body
func (r *Request) cacheKey() string {
	return r.Options.Method + " " + r.URL + " " + string(r.Options.Body)
}

type batch struct {
	key     string
	members []*Request
	timer   *CoalescingTimer
}

// Stats is a snapshot of batcher activity
type Stats struct {
	Requests     int64
	Batches      int64
	NetworkCalls int64
	CacheHits    int64
	Deduplicated int64
	Errors       int64
	Pending      int
}

type counters struct {
	requests     atomic.Int64
	batches      atomic.Int64
	networkCalls atomic.Int64
	cacheHits    atomic.Int64
	deduplicated atomic.Int64
	errors       atomic.Int64
}

// Batcher groups requests by method, URL and body presence
type Batcher struct {
	exec       Executor
	cfg        Config
	cache      *cache.Cache[json.RawMessage]
	logger     *slog.Logger
	clock      internal.Clock
	collectors *metrics.Collectors

	mu       sync.Mutex
	pending  map[string]*batch
	flushing map[string]int
	stopped  bool

	flight  singleflight.Group
	stats   counters
	ctx     context.Context
	cancel  context.CancelFunc
	flushes sync.WaitGroup
}

// New creates a Batcher that sends requests through exec
func New(exec Executor, opts ...Option) *Batcher {
	o := &Options{
		Config: DefaultConfig(),
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.Config.Concurrency <= 0 {
		o.Config.Concurrency = DefaultConcurrency
	}
	o.Config.Default = o.Config.Default.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher{
		exec:       exec,
		cfg:        o.Config,
		cache:      o.Cache,
		logger:     o.Logger.With("component", "batcher"),
		clock:      o.Clock.OrSystem(),
		collectors: o.Collectors,
		pending:    make(map[string]*batch),
		flushing:   make(map[string]int),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// EndpointFor returns the configuration of the longest matching path prefix
func (b *Batcher) EndpointFor(rawURL string) EndpointConfig {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	best, bestLen := b.cfg.Default, -1
	for prefix, cfg := range b.cfg.Endpoints {
		if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
			best, bestLen = cfg, len(prefix)
		}
	}
	if bestLen < 0 {
		return best
	}
	return best.withDefaults()
}

// BatchKey identifies the batch a request joins
func BatchKey(method, rawURL string, hasBody bool) string {
	if hasBody {
		return method + " " + rawURL + " body"
	}
	return method + " " + rawURL
}

// AddRequest queues a call and waits for its response body. Unbatchable
// endpoints are executed immediately.
func (b *Batcher) AddRequest(ctx context.Context, rawURL string, opts RequestOptions, priority Priority) (json.RawMessage, error) {
	const op = "AddRequest"
	if err := ctx.Err(); err != nil {
		return nil, errors.Transient(op, rawURL, errors.Join(errors.ErrAborted, err))
	}
	opts.Method = strings.ToUpper(opts.Method)
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}

	req := &Request{
		ID:       uuid.NewString(),
		URL:      rawURL,
		Options:  opts,
		Priority: priority,
		Arrived:  b.clock(),
		done:     make(chan result, 1),
	}

	cfg := b.EndpointFor(rawURL)

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, errors.Permanent(op, rawURL, errors.ErrStopped)
	}
	b.stats.requests.Add(1)

	if !cfg.Batchable {
		b.flushes.Add(1)
		b.mu.Unlock()
		defer b.flushes.Done()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		defer context.AfterFunc(b.ctx, cancel)()
		return b.call(ctx, req)
	}

	key := BatchKey(opts.Method, rawURL, len(opts.Body) > 0)
	bt, ok := b.pending[key]
	if !ok {
		bt = &batch{key: key}
		bt.timer = NewCoalescingTimer(cfg.MaxWaitTime, func() { b.flushBatch(bt) })
		b.pending[key] = bt
	}
	bt.members = append(bt.members, req)
	if len(bt.members) >= cfg.MaxBatchSize {
		b.detachLocked(bt)
		b.mu.Unlock()
		go b.flush(bt)
	} else {
		bt.timer.Arm()
		b.mu.Unlock()
	}

	select {
	case res := <-req.done:
		return res.body, res.err
	case <-ctx.Done():
		return nil, errors.Transient(op, rawURL, errors.Join(errors.ErrAborted, ctx.Err()))
	}
}

// State reports the lifecycle position of a batch key
func (b *Batcher) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[key]; ok {
		return StateQueuing
	}
	if b.flushing[key] > 0 {
		return StateFlushing
	}
	return StateIdle
}

// Stats returns a snapshot of batcher activity
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	pending := 0
	for _, bt := range b.pending {
		pending += len(bt.members)
	}
	b.mu.Unlock()
	return Stats{
		Requests:     b.stats.requests.Load(),
		Batches:      b.stats.batches.Load(),
		NetworkCalls: b.stats.networkCalls.Load(),
		CacheHits:    b.stats.cacheHits.Load(),
		Deduplicated: b.stats.deduplicated.Load(),
		Errors:       b.stats.errors.Load(),
		Pending:      pending,
	}
}

// Flush sends every queued batch now
func (b *Batcher) Flush() {
	b.mu.Lock()
	batches := make([]*batch, 0, len(b.pending))
	for _, bt := range b.pending {
		b.detachLocked(bt)
		batches = append(batches, bt)
	}
	b.mu.Unlock()
	for _, bt := range batches {
		go b.flush(bt)
	}
}

// Stop rejects queued requests with ErrStopped, aborts in-flight calls and
// waits for running flushes to settle. Later AddRequest calls fail.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	var rejected []*Request
	for key, bt := range b.pending {
		bt.timer.Cancel()
		rejected = append(rejected, bt.members...)
		delete(b.pending, key)
	}
	b.mu.Unlock()

	for _, req := range rejected {
		req.resolve(nil, errors.Permanent("AddRequest", req.URL, errors.ErrStopped))
	}
	b.cancel()
	b.flushes.Wait()
	b.logger.Debug("batcher stopped", "rejected", len(rejected))
}

// detachLocked moves bt from pending to flushing
func (b *Batcher) detachLocked(bt *batch) {
	bt.timer.Cancel()
	delete(b.pending, bt.key)
	b.flushing[bt.key]++
	b.flushes.Add(1)
}

// flushBatch is the timer callback; a batch already flushed by size is ignored
func (b *Batcher) flushBatch(bt *batch) {
	b.mu.Lock()
	if b.pending[bt.key] != bt {
		b.mu.Unlock()
		return
	}
	b.detachLocked(bt)
	b.mu.Unlock()
	b.flush(bt)
}

func (b *Batcher) flush(bt *batch) {
	start := time.Now()
	defer func() {
		b.mu.Lock()
		if b.flushing[bt.key]--; b.flushing[bt.key] <= 0 {
			delete(b.flushing, bt.key)
		}
		b.mu.Unlock()
		b.flushes.Done()
	}()

	members := bt.members
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Priority > members[j].Priority
	})
	b.stats.batches.Add(1)
	b.collectors.BatchFlushed(len(members))

	// group identical calls, keeping first-arrival order by priority
	groups := make(map[string][]*Request)
	var order []string
	for _, req := range members {
		k := req.cacheKey()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], req)
	}

	order = b.resolveFromCache(order, groups)

	var g errgroup.Group
	g.SetLimit(b.cfg.Concurrency)
	for _, k := range order {
		group := groups[k]
		if group[0].Options.Method != http.MethodGet {
			// mutations are never collapsed
			for _, req := range group {
				g.Go(func() error {
					body, err := b.send(req)
					req.resolve(body, err)
					return nil
				})
			}
			continue
		}
		g.Go(func() error {
			body, err := b.shared(k, group[0])
			if n := len(group) - 1; n > 0 {
				b.stats.deduplicated.Add(int64(n))
				b.collectors.Deduplicated(n)
			}
			for _, req := range group {
				req.resolve(body, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	b.logger.Debug("batch flushed",
		"key", bt.key,
		"requests", len(members),
		"groups", len(groups),
		"duration", time.Since(start))
}

// resolveFromCache answers cached GET groups and returns the keys left over
func (b *Batcher) resolveFromCache(order []string, groups map[string][]*Request) []string {
	if b.cache == nil {
		return order
	}
	var lookup []string
	for _, k := range order {
		if groups[k][0].Options.Method == http.MethodGet {
			lookup = append(lookup, k)
		}
	}
	if len(lookup) == 0 {
		return order
	}
	hits := b.cache.GetMany(b.ctx, lookup)
	if len(hits) == 0 {
		return order
	}
	remaining := order[:0:0]
	for _, k := range order {
		body, ok := hits[k]
		if !ok {
			remaining = append(remaining, k)
			continue
		}
		for _, req := range groups[k] {
			b.stats.cacheHits.Add(1)
			b.collectors.BatchCacheHit()
			req.resolve(body, nil)
		}
	}
	return remaining
}

// shared runs a GET once for every concurrent caller of the same key,
// including callers from other batches, and caches the response
func (b *Batcher) shared(key string, req *Request) (json.RawMessage, error) {
	leader := false
	v, err, shared := b.flight.Do(key, func() (any, error) {
		leader = true
		body, err := b.send(req)
		if err != nil {
			return nil, err
		}
		if b.cache != nil && len(bytes.TrimSpace(body)) > 0 {
			var opts []cache.EntryOption
			if b.cfg.CacheTTL > 0 {
				opts = append(opts, cache.ExpiresIn(b.cfg.CacheTTL))
			}
			if err := b.cache.Set(b.ctx, key, body, opts...); err != nil {
				b.logger.Warn("caching response failed", "key", key, "error", err)
			}
		}
		return body, nil
	})
	if shared && !leader {
		b.stats.deduplicated.Add(1)
		b.collectors.Deduplicated(1)
	}
	if err != nil {
		return nil, err
	}
	body, _ := v.(json.RawMessage)
	return body, nil
}

func (b *Batcher) send(req *Request) (json.RawMessage, error) {
	return b.call(b.ctx, req)
}

func (b *Batcher) call(ctx context.Context, req *Request) (json.RawMessage, error) {
	body, err := b.exec.Execute(ctx, transport.Request{
		Method: req.Options.Method,
		URL:    req.URL,
		Header: req.Options.Header,
		Body:   req.Options.Body,
	})
	b.stats.networkCalls.Add(1)
	b.collectors.NetworkCall(err)
	if err != nil {
		b.stats.errors.Add(1)
	}
	return body, err
}
