package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
)

const (
	fileExtension = ".json"
	slashToken    = "__SLASH__"
)

// File stores one file per key under a directory. Writes go to a temporary
// file that is renamed into place so a crash never leaves a torn value.
type File struct {
	dir       string
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewFile creates the directory if needed and verifies it is writable
func NewFile(dir string) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.WrapError("NewFile", dir, errors.ErrInvalidConfig)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, writeFailed("NewFile", dir, err)
	}
	if err := verifyDirectoryWritable(dir); err != nil {
		return nil, writeFailed("NewFile", dir, err)
	}
	return &File{dir: dir}, nil
}

func verifyDirectoryWritable(dir string) error {
	testFile := filepath.Join(dir, ".test_write")
	f, err := os.OpenFile(testFile, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	f.Close()
	return os.Remove(testFile)
}

// Get reads the file of key
func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx, "Get", key); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, errors.WrapError("Get", key, errors.ErrStorageClosed)
	}

	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("Get", key)
		}
		return nil, readFailed("Get", key, err)
	}
	return data, nil
}

// Set atomically replaces the file of key
func (f *File) Set(ctx context.Context, key string, value []byte) error {
	if err := checkContext(ctx, "Set", key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.WrapError("Set", key, errors.ErrStorageClosed)
	}

	path := f.path(key)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, value, 0o644); err != nil {
		return writeFailed("Set", key, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return writeFailed("Set", key, err)
	}
	return nil
}

// Remove deletes the file of key
func (f *File) Remove(ctx context.Context, key string) error {
	if err := checkContext(ctx, "Remove", key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.WrapError("Remove", key, errors.ErrStorageClosed)
	}
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return writeFailed("Remove", key, err)
	}
	return nil
}

// Keys lists the stored keys starting with prefix
func (f *File) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := checkContext(ctx, "Keys", prefix); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, errors.WrapError("Keys", prefix, errors.ErrStorageClosed)
	}

	files, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, readFailed("Keys", prefix, err)
	}
	keys := make([]string, 0, len(files))
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != fileExtension {
			continue
		}
		key := keyFromPath(file.Name())
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close marks the store closed
func (f *File) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
	})
	return nil
}

// Path returns the file backing key
func (f *File) Path(key string) string {
	return f.path(key)
}

func (f *File) path(key string) string {
	encoded := url.QueryEscape(strings.ReplaceAll(key, "/", slashToken))
	return filepath.Join(f.dir, encoded+fileExtension)
}

func keyFromPath(name string) string {
	filename := strings.TrimSuffix(filepath.Base(name), fileExtension)
	key, _ := url.QueryUnescape(filename)
	return strings.ReplaceAll(key, slashToken, "/")
}
