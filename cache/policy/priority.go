package policy

// PriorityPolicy picks the lowest priority key, then the least recently used
type PriorityPolicy[K comparable] struct {
	*heapPolicy[K]
}

// NewPriority creates a new priority policy
func NewPriority[K comparable]() *PriorityPolicy[K] {
	return &PriorityPolicy[K]{heapPolicy: newHeapPolicy[K](lowerPriority)}
}

func lowerPriority(a, b Meta) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.LastAccessed.Before(b.LastAccessed)
}
