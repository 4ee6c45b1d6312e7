package cache

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/Nathan-Paranhos/AithosRag-sub003/internal"
	"github.com/Nathan-Paranhos/AithosRag-sub003/storage"
	"github.com/stretchr/testify/require"
)

type model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// failingStorage fails every Set after the first ok writes
type failingStorage struct {
	storage.Storage
	ok     int
	writes int
}

func (f *failingStorage) Set(ctx context.Context, key string, value []byte) error {
	f.writes++
	if f.writes > f.ok {
		return errors.WrapError("Set", key, errors.ErrStorageFull)
	}
	return f.Storage.Set(ctx, key, value)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()

	backends := map[string]func(t *testing.T) storage.Storage{
		"memory": func(t *testing.T) storage.Storage { return storage.NewMemory(0) },
		"file": func(t *testing.T) storage.Storage {
			s, err := storage.NewFile(t.TempDir())
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			clock := internal.NewFakeClock(epoch)

			c, err := New[model]("models", WithPersistence(store), WithClock(clock.Now), WithCleanupInterval(0))
			require.NoError(t, err)
			require.NoError(t, c.Set(ctx, "m1", model{ID: "1", Name: "alpha"}, Tagged("list"), Prioritized(PriorityHigh)))
			require.NoError(t, c.Set(ctx, "m2", model{ID: "2", Name: "beta"}, ExpiresIn(time.Minute)))
			c.Get(ctx, "m1")
			c.Get(ctx, "m1")
			require.NoError(t, c.Close())

			snap, err := ReadSnapshot(ctx, store, "models")
			require.NoError(t, err)
			require.Len(t, snap.Entries, 2)
			require.True(t, epoch.Equal(snap.Timestamp))

			clock.Advance(2 * time.Minute)
			reopened, err := New[model]("models", WithPersistence(store), WithClock(clock.Now), WithCleanupInterval(0))
			require.NoError(t, err)
			defer reopened.Close()

			v, ok := reopened.Get(ctx, "m1")
			require.True(t, ok)
			require.Equal(t, model{ID: "1", Name: "alpha"}, v)
			require.False(t, reopened.Has(ctx, "m2"))
			require.Equal(t, []model{{ID: "1", Name: "alpha"}}, reopened.GetByTag(ctx, "list"))

			infos := reopened.Entries()
			require.Len(t, infos, 1)
			require.Equal(t, PriorityHigh, infos[0].Priority)
			// access counters restart after a load
			require.Equal(t, int64(2), infos[0].AccessCount)
		})
	}
}

func TestStaleSnapshotIgnored(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	clock := internal.NewFakeClock(epoch)

	c, err := New[string]("api", WithPersistence(store), WithClock(clock.Now), WithCleanupInterval(0))
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "k", "v", ExpiresIn(48*time.Hour)))
	require.NoError(t, c.Close())

	clock.Advance(SnapshotMaxAge)
	reopened, err := New[string]("api", WithPersistence(store), WithClock(clock.Now), WithCleanupInterval(0))
	require.NoError(t, err)
	defer reopened.Close()
	require.Zero(t, reopened.Stats().EntryCount)
}

func TestSnapshotAccessCountReset(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)

	snap := Snapshot{
		Timestamp: epoch,
		Entries: []SnapshotEntry{{
			Key:         "k",
			Value:       json.RawMessage(`"v"`),
			CreatedAt:   epoch,
			TTLMillis:   time.Hour.Milliseconds(),
			AccessCount: 42,
			Priority:    PriorityLow,
		}},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, storage.CacheKey("api"), data))

	clock := internal.NewFakeClock(epoch.Add(time.Minute))
	c, err := New[string]("api", WithPersistence(store), WithClock(clock.Now), WithCleanupInterval(0))
	require.NoError(t, err)
	defer c.Close()

	infos := c.Entries()
	require.Len(t, infos, 1)
	require.Zero(t, infos[0].AccessCount)
	require.Equal(t, int64(len("k")+len(`"v"`)), infos[0].Size)
}

func TestCorruptSnapshotIgnored(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	require.NoError(t, store.Set(ctx, storage.CacheKey("api"), []byte("{not json")))

	c, err := New[string]("api", WithPersistence(store), WithCleanupInterval(0))
	require.NoError(t, err)
	defer c.Close()
	require.Zero(t, c.Stats().EntryCount)
	require.NoError(t, c.Set(ctx, "k", "v"))
}

func TestStorageFailureDegradesToMemoryOnly(t *testing.T) {
	ctx := context.Background()

	t.Run("retry succeeds after dropping expired", func(t *testing.T) {
		// measure a one-entry snapshot to size a quota that fits one entry but not two
		clock := internal.NewFakeClock(epoch)
		sizer := storage.NewMemory(0)
		scratch, err := New[string]("q", WithPersistence(sizer), WithClock(clock.Now), WithCleanupInterval(0))
		require.NoError(t, err)
		require.NoError(t, scratch.Set(ctx, "long", strings.Repeat("b", 40)))
		require.NoError(t, scratch.Close())

		store := storage.NewMemory(sizer.Used() + 20)
		c, err := New[string]("q", WithPersistence(store), WithClock(clock.Now), WithCleanupInterval(0))
		require.NoError(t, err)
		defer c.Close()

		require.NoError(t, c.Set(ctx, "short", strings.Repeat("a", 40), ExpiresIn(time.Second)))
		clock.Advance(2 * time.Second)
		require.NoError(t, c.Set(ctx, "long", strings.Repeat("b", 40)))

		require.False(t, c.Stats().MemoryOnly)
		snap, err := ReadSnapshot(ctx, store, "q")
		require.NoError(t, err)
		require.Len(t, snap.Entries, 1)
		require.Equal(t, "long", snap.Entries[0].Key)
	})

	t.Run("second failure switches to memory-only", func(t *testing.T) {
		store := &failingStorage{Storage: storage.NewMemory(0), ok: 1}
		c, err := New[string]("q", WithPersistence(store), WithCleanupInterval(0))
		require.NoError(t, err)
		defer c.Close()

		require.NoError(t, c.Set(ctx, "a", "1"))
		require.NoError(t, c.Set(ctx, "b", "2"))
		require.True(t, c.Stats().MemoryOnly)
		require.Equal(t, 3, store.writes)

		// the cache keeps serving from memory without further writes
		require.NoError(t, c.Set(ctx, "c", "3"))
		require.Equal(t, 3, store.writes)
		v, ok := c.Get(ctx, "b")
		require.True(t, ok)
		require.Equal(t, "2", v)
	})
}

func TestCompressedSnapshot(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	big := strings.Repeat("compressible ", 200)

	c, err := New[string]("docs", WithPersistence(store), WithCompression(64), WithCleanupInterval(0))
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "big", big))
	require.NoError(t, c.Set(ctx, "small", "tiny"))
	require.NoError(t, c.Close())

	snap, err := ReadSnapshot(ctx, store, "docs")
	require.NoError(t, err)
	byKey := map[string]SnapshotEntry{}
	for _, e := range snap.Entries {
		byKey[e.Key] = e
	}
	require.True(t, byKey["big"].Compressed)
	require.False(t, byKey["small"].Compressed)
	require.Less(t, len(byKey["big"].Value), len(big))

	reopened, err := New[string]("docs", WithPersistence(store), WithCompression(64), WithCleanupInterval(0))
	require.NoError(t, err)
	defer reopened.Close()
	v, ok := reopened.Get(ctx, "big")
	require.True(t, ok)
	require.Equal(t, big, v)
}

func TestCompressRoundTrip(t *testing.T) {
	raw := []byte(`{"text":"` + strings.Repeat("z", 4096) + `"}`)
	packed, err := compressValue(raw)
	require.NoError(t, err)
	require.Less(t, len(packed), len(raw))

	back, err := decompressValue(packed)
	require.NoError(t, err)
	require.Equal(t, raw, back)

	_, err = decompressValue(json.RawMessage(`"not-base64!"`))
	require.ErrorIs(t, err, errors.ErrDecompression)
}
