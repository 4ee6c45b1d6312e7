package storage

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
)

// Badger is a Storage backed by an embedded BadgerDB.
type Badger struct {
	db *badgerdb.DB
}

// OpenBadger opens (or creates) a BadgerDB in dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string) (*Badger, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	if strings.TrimSpace(dir) == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, writeFailed("OpenBadger", dir, err)
	}
	return &Badger{db: db}, nil
}

// Get returns the value stored under key
func (b *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx, "Get", key); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case stderrors.Is(err, badgerdb.ErrKeyNotFound):
		return nil, notFound("Get", key)
	case stderrors.Is(err, badgerdb.ErrDBClosed):
		return nil, errors.WrapError("Get", key, errors.ErrStorageClosed)
	case err != nil:
		return nil, readFailed("Get", key, err)
	}
	return out, nil
}

// Set stores value under key
func (b *Badger) Set(ctx context.Context, key string, value []byte) error {
	if err := checkContext(ctx, "Set", key); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		if stderrors.Is(err, badgerdb.ErrDBClosed) {
			return errors.WrapError("Set", key, errors.ErrStorageClosed)
		}
		return writeFailed("Set", key, err)
	}
	return nil
}

// Remove deletes key
func (b *Badger) Remove(ctx context.Context, key string) error {
	if err := checkContext(ctx, "Remove", key); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil && !stderrors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return writeFailed("Remove", key, err)
	}
	return nil
}

// Keys iterates the keys starting with prefix
func (b *Badger) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := checkContext(ctx, "Keys", prefix); err != nil {
		return nil, err
	}
	var keys []string
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, readFailed("Keys", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the database
func (b *Badger) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	if b.db.IsClosed() {
		return nil
	}
	return b.db.Close()
}
