package policy

// LFU picks the least frequently used key; ties go to
// the least recently used.
type LFU[K comparable] struct {
	*heapPolicy[K]
}

// NewLFU creates a new LFU policy
func NewLFU[K comparable]() *LFU[K] {
	return &LFU[K]{heapPolicy: newHeapPolicy[K](lessFrequent)}
}

func lessFrequent(a, b Meta) bool {
	if a.AccessCount != b.AccessCount {
		return a.AccessCount < b.AccessCount
	}
	return a.LastAccessed.Before(b.LastAccessed)
}
