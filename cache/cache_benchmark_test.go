package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/Nathan-Paranhos/AithosRag-sub003/storage"
)

func BenchmarkCacheOperations(b *testing.B) {
	ctx := context.Background()

	configs := []struct {
		name string
		opts []Option
	}{
		{
			name: "Memory_Only",
			opts: []Option{WithMaxEntries(1000), WithCleanupInterval(0)},
		},
		{
			name: "With_Memory_Store",
			opts: []Option{WithMaxEntries(1000), WithPersistence(storage.NewMemory(0)), WithCleanupInterval(0)},
		},
		{
			name: "With_Sweep",
			opts: []Option{WithMaxEntries(1000), WithDefaultTTL(time.Hour), WithCleanupInterval(time.Second)},
		},
	}

	for _, cfg := range configs {
		b.Run(cfg.name, func(b *testing.B) {
			c, err := New[string]("bench", cfg.opts...)
			if err != nil {
				b.Fatal(err)
			}
			defer c.Close()

			b.Run("Set", func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					_ = c.Set(ctx, "key"+strconv.Itoa(i%2000), "value")
				}
			})

			b.Run("Get", func(b *testing.B) {
				for i := 0; i < 1000; i++ {
					_ = c.Set(ctx, "key"+strconv.Itoa(i), "value")
				}
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					c.Get(ctx, "key"+strconv.Itoa(i%1000))
				}
			})

			b.Run("Parallel_Get", func(b *testing.B) {
				b.RunParallel(func(pb *testing.PB) {
					i := 0
					for pb.Next() {
						c.Get(ctx, "key"+strconv.Itoa(i%1000))
						i++
					}
				})
			})
		})
	}
}
