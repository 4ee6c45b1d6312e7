// Package policy provides the victim-selection trackers used by the cache's
// eviction passes.
package policy

import (
	"fmt"
	"strings"
	"time"
)

// Priority ranks entries for the final eviction pass
type Priority int

const (
	// Low entries are evicted first
	Low Priority = iota
	// Medium is the default priority
	Medium
	// High entries outlast low and medium ones in the priority pass
	High
	// Critical entries are evicted last
	Critical
)

var priorityNames = [...]string{"low", "medium", "high", "critical"}

// String returns the string representation of Priority
func (p Priority) String() string {
	if p < Low || p > Critical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority parses a priority name
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	return Medium, fmt.Errorf("unknown priority %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Meta is the entry metadata a policy orders by
type Meta struct {
	Priority     Priority
	AccessCount  int64
	LastAccessed time.Time
}

// Policy tracks every cached key and picks eviction victims by its own
// ordering. The cache notifies every policy of every change.
type Policy[K comparable] interface {
	// OnGet is called when an entry is read
	OnGet(key K, meta Meta)

	// OnSet is called when an entry is written
	OnSet(key K, meta Meta)

	// OnDelete is called when an entry is removed from the cache
	OnDelete(key K)

	// OnClear is called when the cache is cleared
	OnClear()

	// Evict removes and returns the next victim
	Evict() (K, bool)

	// Size returns the number of tracked keys
	Size() int
}
