package batcher

import (
	"sync"
	"time"
)

// CoalescingTimer fires fn once, d after the first Arm since it last fired
// or was cancelled. Further Arm calls while armed are absorbed.
type CoalescingTimer struct {
	mu    sync.Mutex
	d     time.Duration
	fn    func()
	timer *time.Timer
	gen   uint64
}

// NewCoalescingTimer creates an unarmed timer
func NewCoalescingTimer(d time.Duration, fn func()) *CoalescingTimer {
	return &CoalescingTimer{d: d, fn: fn}
}

// Arm starts the countdown unless it is already running.
// It reports whether this call started it.
func (t *CoalescingTimer) Arm() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		return false
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.d, func() { t.fire(gen) })
	return true
}

// Cancel stops a pending countdown and reports whether one was pending
func (t *CoalescingTimer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return false
	}
	t.timer.Stop()
	t.timer = nil
	t.gen++
	return true
}

// Armed reports whether a countdown is pending
func (t *CoalescingTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *CoalescingTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.timer == nil {
		// cancelled after AfterFunc already started this goroutine
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()
	t.fn()
}
