package internal

import (
	"sync"
	"time"
)

type safeTime struct {
	mu sync.RWMutex
	t  time.Time
}

func (s *safeTime) get() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t
}

func (s *safeTime) set(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t = t
}

func (s *safeTime) add(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t = s.t.Add(d)
}
