package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/store"
)

// exerciseCache runs the shared Cache contract against c.
func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	got, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	fresh := model.NewCacheEntry("fresh", "crunch", []byte(`{"v":1}`), 42, time.Hour, now)
	stale := model.NewCacheEntry("stale", "crunch", []byte(`{"v":2}`), 7, time.Minute, now.Add(-2*time.Minute))
	zero := model.NewCacheEntry("zero", "crunch", []byte(`{"v":3}`), 1, 0, now)
	for _, e := range []model.CacheEntry{fresh, stale, zero} {
		require.NoError(t, c.Put(ctx, e))
	}

	got, err = c.Get(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "crunch", got.ToolID)
	assert.JSONEq(t, `{"v":1}`, string(got.Payload))
	assert.Equal(t, int64(42), got.CostMs)
	assert.Equal(t, time.Hour, got.TTL)
	assert.False(t, got.Expired(now))

	// Last writer wins.
	updated := model.NewCacheEntry("fresh", "crunch", []byte(`{"v":9}`), 43, time.Hour, now)
	require.NoError(t, c.Put(ctx, updated))
	got, err = c.Get(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"v":9}`, string(got.Payload))

	n, err := c.Prune(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err = c.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Delete(ctx, "fresh"))
	got, err = c.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryCache_Contract(t *testing.T) {
	c := NewMemoryCache()
	exerciseCache(t, c)
	assert.Equal(t, 0, c.Len())
	assert.NoError(t, c.Close())
}

func TestStoreCache_Contract(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	c := NewStoreCache(st)
	exerciseCache(t, c)
	assert.NoError(t, c.Close())
}

func TestBadgerCache_Contract(t *testing.T) {
	c, err := OpenBadgerCache("")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() }) //nolint:errcheck

	exerciseCache(t, c)
}

func TestBadgerCache_OnDisk(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "badger")
	c, err := OpenBadgerCache(dir)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, model.NewCacheEntry("k", "crunch", []byte(`{"a":"b"}`), 3, time.Hour, time.Now())))
	require.NoError(t, c.Close())

	reopened, err := OpenBadgerCache(dir)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() }) //nolint:errcheck

	got, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"a":"b"}`, string(got.Payload))
}

func TestOrchestrator_BadgerBackedIdempotence(t *testing.T) {
	c, err := OpenBadgerCache("")
	require.NoError(t, err)

	p := okProvider(map[string]any{"score": 4.5}, 12)
	reg := NewRegistry()
	require.NoError(t, reg.Register(meta("crunch", 1), p))
	o := New(reg, Options{Cache: c, CacheTTL: time.Hour})
	t.Cleanup(func() { o.Close() }) //nolint:errcheck

	ctx := context.Background()
	first, err := o.RunTool(ctx, "crunch", map[string]any{"entity_id": "acme"})
	require.NoError(t, err)
	second, err := o.RunTool(ctx, "crunch", map[string]any{"entity_id": "acme"})
	require.NoError(t, err)

	assert.Equal(t, model.ProvenanceCache, second.Provenance)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, first.CostMs, second.CostMs)
	assert.Equal(t, int64(1), p.calls.Load())
}
