package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
)

// Memory is an in-process Storage with an optional byte quota. It stands in
// for a browser-style store whose writes can fail once the quota is reached.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	used   int64
	quota  int64
	closed bool
}

// NewMemory creates a memory store; quota <= 0 disables the quota
func NewMemory(quota int64) *Memory {
	return &Memory{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

// Get returns a copy of the value stored under key
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx, "Get", key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.WrapError("Get", key, errors.ErrStorageClosed)
	}
	v, ok := m.data[key]
	if !ok {
		return nil, notFound("Get", key)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of value, failing with ErrStorageFull when the quota would be exceeded
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := checkContext(ctx, "Set", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.WrapError("Set", key, errors.ErrStorageClosed)
	}

	size := int64(len(key) + len(value))
	prev, exists := m.data[key]
	used := m.used + size
	if exists {
		used -= int64(len(key) + len(prev))
	}
	if m.quota > 0 && used > m.quota {
		return errors.WrapError("Set", key, errors.ErrStorageFull)
	}

	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	m.used = used
	return nil
}

// Remove deletes key
func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := checkContext(ctx, "Remove", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.WrapError("Remove", key, errors.ErrStorageClosed)
	}
	if prev, ok := m.data[key]; ok {
		m.used -= int64(len(key) + len(prev))
		delete(m.data, key)
	}
	return nil
}

// Keys returns the keys starting with prefix
func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := checkContext(ctx, "Keys", prefix); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.WrapError("Keys", prefix, errors.ErrStorageClosed)
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Used returns the bytes currently stored
func (m *Memory) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

// Close marks the store closed
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
