package internal

import (
	"sync"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
)

// DefaultMaxSubscribers bounds the listener list of a Topic
const DefaultMaxSubscribers = 64

// Topic is a typed publish/subscribe channel with a bounded subscriber list.
// Subscribers run synchronously in Publish, in subscription order; a panicking
// subscriber is recovered and does not stop delivery to the others.
type Topic[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]func(T)
	order  []uint64
	nextID uint64
	max    int
}

// NewTopic creates a topic accepting at most max subscribers (DefaultMaxSubscribers when max <= 0)
func NewTopic[T any](max int) *Topic[T] {
	if max <= 0 {
		max = DefaultMaxSubscribers
	}
	return &Topic[T]{
		subs: make(map[uint64]func(T)),
		max:  max,
	}
}

// Subscribe registers fn and returns the handle that removes it again.
// The handle is idempotent.
func (t *Topic[T]) Subscribe(fn func(T)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.subs) >= t.max {
		return nil, errors.WrapError("Subscribe", nil, errors.ErrTooManyListeners)
	}

	t.nextID++
	id := t.nextID
	t.subs[id] = fn
	t.order = append(t.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { t.remove(id) })
	}, nil
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.subs, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Publish delivers v to every current subscriber
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	fns := make([]func(T), 0, len(t.order))
	for _, id := range t.order {
		fns = append(fns, t.subs[id])
	}
	t.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer errors.RecoverFromPanic("Publish", nil)
			fn(v)
		}()
	}
}

// Len returns the number of subscribers
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Close removes all subscribers
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = make(map[uint64]func(T))
	t.order = nil
}
