package spate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spate-cache/spate/internal/config"
)

func registryConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Global: config.GlobalConfig{
			StoragePath:        t.TempDir(),
			DefaultCapacity:    config.ByteSize(1 << 20),
			MemoryPollInterval: config.Duration(time.Hour),
			QueueDepth:         16,
		},
		Caches: []config.CacheConfig{
			{Name: "sessions", Type: "lru", DefaultExpiry: config.Duration(time.Minute)},
			{Name: "images", Type: "lfu", MaxCapacity: config.ByteSize(64 << 20)},
		},
	}
}

func TestRegistryOpensConfiguredCaches(t *testing.T) {
	r, err := NewRegistry(registryConfig(t), quietLogger())
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, []string{"images", "sessions"}, r.Names())
	require.Nil(t, r.Pressure())

	stats := r.List()
	require.Len(t, stats, 2)
	require.Equal(t, "images", stats[0].Name)
	require.Equal(t, TypeLFU, stats[0].Type)
	require.Equal(t, uint64(64<<20), stats[0].CapacityBytes)
	require.Equal(t, uint64(1<<20), stats[1].CapacityBytes)

	images, ok := r.Lookup("images")
	require.True(t, ok)
	require.NoError(t, images.Put("a", json.RawMessage(`{"x":1}`)))
	got, ok := images.Get(context.Background(), "a")
	require.True(t, ok)
	require.JSONEq(t, `{"x":1}`, string(got))

	_, ok = r.Lookup("missing")
	require.False(t, ok)
	_, err = r.Resolve("missing")
	require.ErrorIs(t, err, ErrCacheNotFound)
}

func TestRegistryWiresMemoryPressure(t *testing.T) {
	cfg := registryConfig(t)
	cfg.Global.MemoryHighWater = config.ByteSize(1 << 40)
	r, err := NewRegistry(cfg, quietLogger())
	require.NoError(t, err)
	defer r.Close()

	require.NotNil(t, r.Pressure())
	sessions, _ := r.Lookup("sessions")
	require.NoError(t, sessions.Put("k", json.RawMessage(`"v"`)))
	require.Equal(t, 1, sessions.Stats().MemoryEntries)

	r.Pressure().Broadcast()
	require.Equal(t, 0, sessions.Stats().MemoryEntries)
}

func TestRegistryRejectsBadCacheType(t *testing.T) {
	cfg := registryConfig(t)
	cfg.Caches[1].Type = "fifo"
	_, err := NewRegistry(cfg, quietLogger())
	require.Error(t, err)
}

func TestRegistryCloseIsIdempotent(t *testing.T) {
	r, err := NewRegistry(registryConfig(t), quietLogger())
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.Empty(t, r.List())
}
