package policy

import (
	"container/heap"
	"sync"
)

type heapItem[K comparable] struct {
	key   K
	meta  Meta
	index int
}

type itemQueue[K comparable] struct {
	items []*heapItem[K]
	less  func(a, b Meta) bool
}

func (q itemQueue[K]) Len() int { return len(q.items) }

func (q itemQueue[K]) Less(i, j int) bool {
	return q.less(q.items[i].meta, q.items[j].meta)
}

func (q itemQueue[K]) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *itemQueue[K]) Push(x any) {
	item := x.(*heapItem[K])
	item.index = len(q.items)
	q.items = append(q.items, item)
}

func (q *itemQueue[K]) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	q.items = old[:n-1]
	return item
}

// heapPolicy is a Policy whose victim is the minimum of a metadata ordering
type heapPolicy[K comparable] struct {
	items map[K]*heapItem[K]
	queue *itemQueue[K]
	mu    sync.Mutex
}

func newHeapPolicy[K comparable](less func(a, b Meta) bool) *heapPolicy[K] {
	queue := &itemQueue[K]{less: less}
	heap.Init(queue)
	return &heapPolicy[K]{
		items: make(map[K]*heapItem[K]),
		queue: queue,
	}
}

func (p *heapPolicy[K]) OnGet(key K, meta Meta) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if item, exists := p.items[key]; exists {
		item.meta = meta
		heap.Fix(p.queue, item.index)
	}
}

func (p *heapPolicy[K]) OnSet(key K, meta Meta) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if item, exists := p.items[key]; exists {
		item.meta = meta
		heap.Fix(p.queue, item.index)
		return
	}
	item := &heapItem[K]{key: key, meta: meta}
	heap.Push(p.queue, item)
	p.items[key] = item
}

func (p *heapPolicy[K]) OnDelete(key K) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if item, exists := p.items[key]; exists {
		heap.Remove(p.queue, item.index)
		delete(p.items, key)
	}
}

func (p *heapPolicy[K]) OnClear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queue.items = nil
	p.items = make(map[K]*heapItem[K])
}

func (p *heapPolicy[K]) Evict() (K, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queue.Len() == 0 {
		var zero K
		return zero, false
	}
	item := heap.Pop(p.queue).(*heapItem[K])
	delete(p.items, item.key)
	return item.key, true
}

func (p *heapPolicy[K]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
