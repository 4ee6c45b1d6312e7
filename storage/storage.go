// Package storage provides the durable key-value substrate used by the cache
// snapshots and the sync queue.
package storage

import (
	"context"
	"strings"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
)

// Storage is a string-keyed byte store. Implementations must be safe for
// concurrent use. Get returns an error wrapping errors.ErrKeyNotFound for a
// missing key; Remove of a missing key is not an error.
type Storage interface {
	// Get returns the value stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key
	Remove(ctx context.Context, key string) error

	// Keys returns every key starting with prefix, sorted
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources used by the store
	Close() error
}

// Backend names accepted by Open
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config selects and configures a backend
type Config struct {
	// Backend is one of memory, file, badger or sqlite
	Backend string `mapstructure:"backend" validate:"oneof=memory file badger sqlite"`

	// Path is the directory (file, badger) or database file (sqlite)
	Path string `mapstructure:"path" validate:"required_if=Backend file"`

	// Quota bounds the total stored bytes of the memory backend (0 means unlimited)
	Quota int64 `mapstructure:"quota" validate:"gte=0"`
}

// Open creates the backend named by cfg.Backend
func Open(cfg Config) (Storage, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemory(cfg.Quota), nil
	case BackendFile:
		return NewFile(cfg.Path)
	case BackendBadger:
		return OpenBadger(cfg.Path)
	case BackendSQLite:
		return OpenSQLite(cfg.Path)
	default:
		return nil, errors.WrapError("Open", cfg.Backend, errors.ErrInvalidConfig)
	}
}

// CacheKey is the storage key of the snapshot of the named cache
func CacheKey(name string) string {
	return "cache_" + name
}

// SyncQueueKey is the storage key of the sync queue of a namespace
func SyncQueueKey(namespace string) string {
	return namespace + "_sync_queue"
}

func checkContext(ctx context.Context, op, key string) error {
	select {
	case <-ctx.Done():
		return errors.WrapError(op, key, errors.ErrContextCanceled)
	default:
		return nil
	}
}

func notFound(op, key string) error {
	return errors.WrapError(op, key, errors.ErrKeyNotFound)
}

func readFailed(op, key string, err error) error {
	return errors.WrapError(op, key, errors.Join(errors.ErrStorageRead, err))
}

func writeFailed(op, key string, err error) error {
	return errors.WrapError(op, key, errors.Join(errors.ErrStorageWrite, err))
}
