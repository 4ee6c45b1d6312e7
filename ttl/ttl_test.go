package ttl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	cfg := Config{DefaultTTL: 5 * time.Minute, MaxTTL: 24 * time.Hour}

	t.Run("Zero TTL uses default", func(t *testing.T) {
		require.Equal(t, cfg.DefaultTTL, Resolve(0, cfg))
	})

	t.Run("TTL too long is clamped", func(t *testing.T) {
		require.Equal(t, cfg.MaxTTL, Resolve(48*time.Hour, cfg))
	})

	t.Run("TTL kept", func(t *testing.T) {
		require.Equal(t, time.Second, Resolve(time.Second, cfg))
	})

	t.Run("No max", func(t *testing.T) {
		require.Equal(t, 48*time.Hour, Resolve(48*time.Hour, Config{}))
	})
}

func TestExpired(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ttl := time.Second

	require.False(t, Expired(created, ttl, created))
	require.False(t, Expired(created, ttl, created.Add(999*time.Millisecond)))
	require.True(t, Expired(created, ttl, created.Add(time.Second)))
	require.True(t, Expired(created, ttl, created.Add(1600*time.Millisecond)))
	require.False(t, Expired(created, 0, created.Add(24*time.Hour)))
}

func TestExpiresAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, ExpiresAt(created, 0).IsZero())
	require.Equal(t, created.Add(time.Minute), ExpiresAt(created, time.Minute))
}
