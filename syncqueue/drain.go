package syncqueue

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/Nathan-Paranhos/AithosRag-sub003/transport"
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSynced
	outcomeRetried
	outcomeFailed
)

// Backoff returns the delay before attempt retries+1: base·2^(retries−1),
// never more than limit
func Backoff(retries int, base, limit time.Duration) time.Duration {
	if retries < 1 {
		retries = 1
	}
	d := base
	for i := 1; i < retries; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// Request builds the API call for an item
func (q *Queue) Request(it Item) (transport.Request, error) {
	const op = "Request"
	endpoint := strings.TrimRight(q.cfg.Endpoints[it.Type], "/")
	if endpoint == "" {
		return transport.Request{}, errors.Permanent(op, it.Type, errors.Join(errors.ErrInvalidConfig, errors.ErrUnknownSyncType))
	}
	if it.Action == ActionCreate {
		return transport.Request{Method: http.MethodPost, URL: endpoint, Body: it.Payload}, nil
	}

	id := it.RecordID()
	if id == "" {
		return transport.Request{}, errors.Permanent(op, it.ID, errors.ErrInvalidPayload)
	}
	target := endpoint + "/" + url.PathEscape(id)
	switch it.Action {
	case ActionUpdate:
		return transport.Request{Method: http.MethodPut, URL: target, Body: it.Payload}, nil
	case ActionDelete:
		return transport.Request{Method: http.MethodDelete, URL: target}, nil
	default:
		return transport.Request{}, errors.Permanent(op, it.Action, errors.ErrUnknownSyncAction)
	}
}

// drain attempts every eligible item in priority order, BatchSize at a time
func (q *Queue) drain(ctx context.Context) Result {
	q.mu.Lock()
	if !q.online || q.syncing || q.stopped {
		q.mu.Unlock()
		return Result{Skipped: true}
	}
	q.syncing = true
	now := q.clock()
	eligible := make([]record, 0, len(q.items))
	for _, r := range q.items {
		if r.item.Eligible(now) {
			eligible = append(eligible, *r)
		}
	}
	q.mu.Unlock()

	start := time.Now()
	sortRecords(eligible)
	q.publish(Event{Type: EventDrainStarted})

	var (
		res   Result
		resMu sync.Mutex
	)
	for i := 0; i < len(eligible); i += q.cfg.BatchSize {
		if i > 0 && q.cfg.InterBatchDelay > 0 {
			select {
			case <-time.After(q.cfg.InterBatchDelay):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil || !q.Online() {
			break
		}

		chunk := eligible[i:min(i+q.cfg.BatchSize, len(eligible))]
		var g errgroup.Group
		for _, r := range chunk {
			g.Go(func() error {
				out := q.process(ctx, r)
				resMu.Lock()
				defer resMu.Unlock()
				switch out {
				case outcomeSynced:
					res.Synced++
				case outcomeRetried:
					res.Retried++
				case outcomeFailed:
					res.Failed++
				}
				if out != outcomeSkipped {
					res.Attempted++
				}
				return nil
			})
		}
		_ = g.Wait()
		q.persist(ctx)
	}

	q.mu.Lock()
	q.syncing = false
	q.lastSync = q.clock()
	res.Remaining = len(q.items)
	q.mu.Unlock()

	elapsed := time.Since(start)
	q.collectors.SyncPending(res.Remaining)
	q.collectors.SyncDrained(elapsed)
	q.publish(Event{Type: EventDrainCompleted, Result: res})
	if res.Attempted > 0 {
		q.logger.Info("sync drain finished",
			"synced", res.Synced,
			"retried", res.Retried,
			"failed", res.Failed,
			"remaining", res.Remaining,
			"duration", elapsed)
	}
	return res
}

// process sends one item and applies the outcome to the queue
func (q *Queue) process(ctx context.Context, r record) outcome {
	req, err := q.Request(r.item)
	if err == nil {
		_, err = q.exec.Execute(ctx, req)
	}
	now := q.clock()

	q.mu.Lock()
	cur, ok := q.items[r.item.ID]
	if !ok || cur.rev != r.rev {
		// replaced or cleared while the call was in flight
		q.mu.Unlock()
		return outcomeSkipped
	}

	switch {
	case err == nil:
		delete(q.items, r.item.ID)
		q.mu.Unlock()
		q.collectors.SyncSynced()
		q.publish(Event{Type: EventSynced, Item: cur.item})
		return outcomeSynced

	case errors.IsPermanent(err):
		delete(q.items, r.item.ID)
		q.recordErrorLocked(err.Error())
		q.mu.Unlock()
		q.collectors.SyncFailed("permanent")
		q.logger.Warn("sync item rejected", "id", cur.item.ID, "type", cur.item.Type, "error", err)
		q.publish(Event{Type: EventFailed, Item: cur.item, Err: err})
		return outcomeFailed
	}

	it := cur.item
	it.Retries++
	it.LastError = err.Error()
	if it.Retries >= it.MaxRetries {
		delete(q.items, it.ID)
		exhausted := &errors.ExhaustedRetryError{
			ItemID:   it.ID,
			ItemType: string(it.Type),
			Attempts: it.Retries,
			Err:      err,
		}
		q.recordErrorLocked(exhausted.Error())
		q.mu.Unlock()
		q.collectors.SyncFailed("exhausted")
		q.logger.Warn("sync item dropped", "id", it.ID, "type", it.Type, "attempts", it.Retries, "error", err)
		q.publish(Event{Type: EventFailed, Item: it, Err: exhausted})
		return outcomeFailed
	}

	at := now.Add(Backoff(it.Retries, q.cfg.RetryDelay, q.cfg.MaxRetryDelay))
	it.ScheduledAt = &at
	q.rev++
	cur.item, cur.rev = it, q.rev
	q.recordErrorLocked(err.Error())
	q.mu.Unlock()
	q.collectors.SyncRetried()
	q.logger.Debug("sync item rescheduled", "id", it.ID, "retries", it.Retries, "at", at)
	q.publish(Event{Type: EventRetry, Item: it, Err: err})
	return outcomeRetried
}

func sortRecords(rs []record) {
	sort.Slice(rs, func(i, j int) bool { return Less(rs[i].item, rs[j].item) })
}
