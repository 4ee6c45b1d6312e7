// Package syncqueue persists mutations made while offline and replays them
// against the API in priority order once connectivity returns.
package syncqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/Nathan-Paranhos/AithosRag-sub003/internal"
	"github.com/Nathan-Paranhos/AithosRag-sub003/metrics"
	"github.com/Nathan-Paranhos/AithosRag-sub003/storage"
	"github.com/Nathan-Paranhos/AithosRag-sub003/transport"
)

// maxErrors is how many recent failures Status keeps
const maxErrors = 10

// Executor performs a single API call; *transport.Client satisfies it
type Executor interface {
	Execute(ctx context.Context, req transport.Request) (json.RawMessage, error)
}

// EventType represents the type of queue event
type EventType int

const (
	// EventAdded is published when an item is queued or replaced
	EventAdded EventType = iota
	// EventSynced is published when the API accepted an item
	EventSynced
	// EventRetry is published when a transient failure rescheduled an item
	EventRetry
	// EventFailed is published once when an item is dropped
	EventFailed
	// EventDrainStarted is published when a drain begins
	EventDrainStarted
	// EventDrainCompleted is published when a drain ends
	EventDrainCompleted
)

// String returns the string representation of EventType
func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventSynced:
		return "synced"
	case EventRetry:
		return "retry"
	case EventFailed:
		return "failed"
	case EventDrainStarted:
		return "drain_started"
	case EventDrainCompleted:
		return "drain_completed"
	default:
		return "unknown"
	}
}

// Event describes a queue change. Item is set for item events, Result for
// EventDrainCompleted.
type Event struct {
	Type      EventType
	Item      Item
	Err       error
	Result    Result
	Timestamp time.Time
}

// Result summarizes a drain
type Result struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
	// Skipped is set when the drain did not run (offline or already draining)
	Skipped bool `json:"skipped"`
}

// Status is a snapshot of the queue
type Status struct {
	Pending  int       `json:"pending"`
	Syncing  bool      `json:"syncing"`
	Online   bool      `json:"online"`
	LastSync time.Time `json:"lastSync"`
	Errors   []string  `json:"errors"`
}

// record is a queued item plus a revision used to detect replacement
// while a drain holds a copy
type record struct {
	item Item
	rev  uint64
}

// Queue is the offline mutation queue
type Queue struct {
	cfg        Config
	store      storage.Storage
	exec       Executor
	logger     *slog.Logger
	clock      internal.Clock
	collectors *metrics.Collectors
	topic      *internal.Topic[Event]

	mu       sync.Mutex
	items    map[string]*record
	rev      uint64
	online   bool
	syncing  bool
	lastSync time.Time
	errs     []string
	settle   *time.Timer
	started  bool
	stopped  bool

	persistMu sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a queue and loads any items persisted by a previous run.
// The queue starts offline.
func New(exec Executor, opts ...Option) (*Queue, error) {
	o := &Options{
		Config:         DefaultConfig(),
		Logger:         slog.Default(),
		MaxSubscribers: internal.DefaultMaxSubscribers,
	}
	for _, opt := range opts {
		opt(o)
	}
	if exec == nil {
		return nil, errors.WrapError("New", nil, errors.Join(errors.ErrInvalidConfig, errors.New("nil executor")))
	}
	if err := validate.Struct(o.Config); err != nil {
		return nil, errors.WrapError("New", nil, errors.Join(errors.ErrInvalidConfig, err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:        o.Config,
		store:      o.Storage,
		exec:       exec,
		logger:     o.Logger.With("component", "syncqueue", "namespace", o.Config.Namespace),
		clock:      o.Clock.OrSystem(),
		collectors: o.Collectors,
		topic:      internal.NewTopic[Event](o.MaxSubscribers),
		items:      make(map[string]*record),
		ctx:        ctx,
		cancel:     cancel,
	}
	q.load(ctx)
	return q, nil
}

// StorageKey returns the key the queue persists under
func (q *Queue) StorageKey() string {
	return storage.SyncQueueKey(q.cfg.Namespace)
}

// AddToSyncQueue validates and queues a mutation. While online a drain is
// scheduled right away.
func (q *Queue) AddToSyncQueue(ctx context.Context, t ItemType, a Action, payload any, opts ...AddOption) (Item, error) {
	const op = "AddToSyncQueue"
	if err := ctx.Err(); err != nil {
		return Item{}, errors.WrapError(op, t, errors.Join(errors.ErrContextCanceled, err))
	}
	data, err := encodePayload(t, a, payload)
	if err != nil {
		return Item{}, err
	}

	item := Item{
		ID:         uuid.NewString(),
		Type:       t,
		Action:     a,
		Payload:    data,
		MaxRetries: q.cfg.MaxRetries,
		CreatedAt:  q.clock(),
	}
	for _, opt := range opts {
		opt(&item)
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return Item{}, errors.Permanent(op, item.ID, errors.ErrStopped)
	}
	q.rev++
	q.items[item.ID] = &record{item: item, rev: q.rev}
	pending := len(q.items)
	online := q.online
	q.mu.Unlock()

	q.persist(ctx)
	q.collectors.SyncPending(pending)
	q.publish(Event{Type: EventAdded, Item: item})
	q.logger.Debug("item queued", "id", item.ID, "type", item.Type, "action", item.Action)

	if online {
		q.spawnDrain()
	}
	return item, nil
}

// Items returns the queued items in drain order
func (q *Queue) Items() []Item {
	q.mu.Lock()
	items := make([]Item, 0, len(q.items))
	for _, r := range q.items {
		items = append(items, r.item)
	}
	q.mu.Unlock()
	sortItems(items)
	return items
}

// Status returns a snapshot of the queue
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		Pending:  len(q.items),
		Syncing:  q.syncing,
		Online:   q.online,
		LastSync: q.lastSync,
		Errors:   append([]string(nil), q.errs...),
	}
}

// Subscribe registers fn for queue events
func (q *Queue) Subscribe(fn func(Event)) (func(), error) {
	return q.topic.Subscribe(fn)
}

// SetOnline records a connectivity change. Going online schedules a drain
// after SettleDelay; going offline cancels a scheduled one.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || q.online == online {
		return
	}
	q.online = online
	if q.settle != nil {
		q.settle.Stop()
		q.settle = nil
	}
	if online {
		q.settle = time.AfterFunc(q.cfg.SettleDelay, q.spawnDrain)
	}
	q.logger.Debug("connectivity changed", "online", online)
}

// Online reports the last connectivity state given to SetOnline
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// TriggerSync drains eligible items now. It is a no-op while offline or while
// another drain runs.
func (q *Queue) TriggerSync(ctx context.Context) (Result, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return Result{}, errors.Permanent("TriggerSync", q.cfg.Namespace, errors.ErrStopped)
	}
	q.wg.Add(1)
	q.mu.Unlock()
	defer q.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(q.ctx, cancel)
	defer stop()
	return q.drain(ctx), nil
}

// Start runs periodic drains every SyncInterval until Stop
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started || q.stopped || q.cfg.SyncInterval <= 0 {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.drain(q.ctx)
			case <-ctx.Done():
				return
			case <-q.ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels scheduled and running drains and waits for them to return.
// Items stay persisted for the next run.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	if q.settle != nil {
		q.settle.Stop()
		q.settle = nil
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.topic.Close()
}

// Clear drops every queued item
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	q.items = make(map[string]*record)
	q.mu.Unlock()
	q.persist(ctx)
	q.collectors.SyncPending(0)
}

func (q *Queue) spawnDrain() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()
	go func() {
		defer q.wg.Done()
		q.drain(q.ctx)
	}()
}

func (q *Queue) publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = q.clock()
	}
	q.topic.Publish(e)
}

func (q *Queue) recordErrorLocked(msg string) {
	q.errs = append(q.errs, msg)
	if len(q.errs) > maxErrors {
		q.errs = q.errs[len(q.errs)-maxErrors:]
	}
}

// persist writes the current items. Writes are serialized so a later call
// never loses to an earlier one.
func (q *Queue) persist(ctx context.Context) {
	if q.store == nil {
		return
	}
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	items := q.Items()
	data, err := json.Marshal(items)
	if err != nil {
		q.logger.Error("encoding sync queue failed", "error", err)
		return
	}
	if err := q.store.Set(context.WithoutCancel(ctx), q.StorageKey(), data); err != nil {
		q.logger.Warn("persisting sync queue failed", "error", err, "items", len(items))
	}
}

func (q *Queue) load(ctx context.Context) {
	if q.store == nil {
		return
	}
	data, err := q.store.Get(ctx, q.StorageKey())
	if err != nil {
		if !errors.IsKeyNotFound(err) {
			q.logger.Warn("loading sync queue failed", "error", err)
		}
		return
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		q.logger.Warn("ignoring corrupt sync queue", "error", err)
		return
	}
	for _, it := range items {
		if it.ID == "" || !it.Type.Valid() || !it.Action.Valid() {
			continue
		}
		if it.MaxRetries <= 0 {
			it.MaxRetries = q.cfg.MaxRetries
		}
		q.rev++
		q.items[it.ID] = &record{item: it, rev: q.rev}
	}
	q.collectors.SyncPending(len(q.items))
	q.logger.Debug("sync queue loaded", "items", len(q.items))
}
