package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/orchestrator/provider"
	"github.com/sells-group/target-signal/internal/resilience"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CacheEntry), args.Error(1)
}

func (m *mockCache) Put(ctx context.Context, entry model.CacheEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockCache) Prune(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *mockCache) Close() error {
	return m.Called().Error(0)
}

// countingProvider wraps fn and counts invocations.
type countingProvider struct {
	calls atomic.Int64
	fn    provider.Func
}

func (c *countingProvider) Kind() string { return "test" }

func (c *countingProvider) Invoke(ctx context.Context, toolID string, params map[string]any) (*provider.Response, error) {
	c.calls.Add(1)
	return c.fn(ctx, toolID, params)
}

func okProvider(payload map[string]any, costMs int64) *countingProvider {
	return &countingProvider{fn: func(context.Context, string, map[string]any) (*provider.Response, error) {
		return &provider.Response{Payload: payload, CostMs: costMs}, nil
	}}
}

func meta(id string, concurrency int) model.ToolMeta {
	return model.ToolMeta{ToolID: id, ConcurrencyLimit: concurrency, Enabled: true, Weight: 0.8}
}

func newOrchestrator(t *testing.T, opts Options, tools map[string]provider.Provider) *Orchestrator {
	t.Helper()
	reg := NewRegistry()
	for id, p := range tools {
		require.NoError(t, reg.Register(meta(id, 2), p))
	}
	return New(reg, opts)
}

func TestRunTool_DisabledToolTouchesNothing(t *testing.T) {
	cache := new(mockCache)
	p := okProvider(map[string]any{"x": 1}, 0)
	o := newOrchestrator(t, Options{Cache: cache, CacheTTL: time.Hour}, map[string]provider.Provider{"crunch": p})
	require.NoError(t, o.DisableTool("crunch"))

	res, err := o.RunTool(context.Background(), "crunch", map[string]any{"entity_id": "acme"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, resilience.IsValidation(err))
	assert.Equal(t, int64(0), p.calls.Load())
	cache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	cache.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestRunTool_UnknownAndEmptyTool(t *testing.T) {
	o := newOrchestrator(t, Options{}, nil)

	_, err := o.RunTool(context.Background(), "nope", nil)
	assert.True(t, resilience.IsValidation(err))

	_, err = o.RunTool(context.Background(), "  ", nil)
	assert.True(t, resilience.IsValidation(err))
}

func TestRunTool_UnserializableParams(t *testing.T) {
	o := newOrchestrator(t, Options{}, map[string]provider.Provider{"crunch": okProvider(nil, 0)})
	_, err := o.RunTool(context.Background(), "crunch", map[string]any{"ch": make(chan int)})
	assert.True(t, resilience.IsValidation(err))
}

func TestRunTool_SecondCallServedFromCache(t *testing.T) {
	p := okProvider(map[string]any{"revenue": 5, "sector": "saas"}, 42)
	o := newOrchestrator(t, Options{Cache: NewMemoryCache(), CacheTTL: time.Hour}, map[string]provider.Provider{"crunch": p})
	ctx := context.Background()
	params := map[string]any{"entity_id": "acme"}

	first, err := o.RunTool(ctx, "crunch", params)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, model.ProvenanceProvider, first.Provenance)
	assert.Equal(t, int64(42), first.CostMs)
	assert.InDelta(t, 0.8, first.Confidence, 1e-9)

	second, err := o.RunTool(ctx, "crunch", map[string]any{"entity_id": "acme"})
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, model.ProvenanceCache, second.Provenance)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, int64(42), second.CostMs)
	assert.Equal(t, int64(1), p.calls.Load())

	stats := o.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(2), stats[0].Calls)
	assert.Equal(t, int64(1), stats[0].CacheHits)
}

func TestRunTool_ZeroTTLExpiresOnNextLookup(t *testing.T) {
	p := okProvider(map[string]any{"v": 1}, 1)
	cache := NewMemoryCache()
	o := newOrchestrator(t, Options{Cache: cache, CacheTTL: 0}, map[string]provider.Provider{"crunch": p})
	ctx := context.Background()

	_, err := o.RunTool(ctx, "crunch", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	res, err := o.RunTool(ctx, "crunch", nil)
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceProvider, res.Provenance)
	assert.Equal(t, int64(2), p.calls.Load())
}

func TestRunTool_ExpiredEntryEvicted(t *testing.T) {
	p := okProvider(map[string]any{"v": 1}, 1)
	cache := NewMemoryCache()
	o := newOrchestrator(t, Options{Cache: cache, CacheTTL: time.Minute}, map[string]provider.Provider{"crunch": p})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return clock }
	ctx := context.Background()

	_, err := o.RunTool(ctx, "crunch", nil)
	require.NoError(t, err)

	clock = clock.Add(59 * time.Second)
	res, err := o.RunTool(ctx, "crunch", nil)
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceCache, res.Provenance)

	clock = clock.Add(time.Second)
	res, err = o.RunTool(ctx, "crunch", nil)
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceProvider, res.Provenance)
	assert.Equal(t, int64(2), p.calls.Load())
}

func TestRunTool_FailureNeverCached(t *testing.T) {
	var attempt atomic.Int64
	p := &countingProvider{fn: func(context.Context, string, map[string]any) (*provider.Response, error) {
		if attempt.Add(1) == 1 {
			return nil, resilience.NewTransientError(errors.New("upstream 503"), 503)
		}
		return &provider.Response{Payload: map[string]any{"ok": true}}, nil
	}}
	o := newOrchestrator(t, Options{Cache: NewMemoryCache(), CacheTTL: time.Hour}, map[string]provider.Provider{"crunch": p})
	ctx := context.Background()

	first, err := o.RunTool(ctx, "crunch", nil)
	require.NoError(t, err)
	assert.False(t, first.Success)
	assert.Equal(t, resilience.KindTransient, first.ErrorKind)
	assert.Contains(t, first.Error, "upstream 503")
	assert.GreaterOrEqual(t, first.CostMs, int64(0))

	second, err := o.RunTool(ctx, "crunch", nil)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, model.ProvenanceProvider, second.Provenance)
	assert.Equal(t, int64(2), p.calls.Load())
	assert.Equal(t, int64(1), o.Stats()[0].Failures)
}

func TestRunTool_BypassCacheRefreshes(t *testing.T) {
	p := okProvider(map[string]any{"v": 1}, 1)
	o := newOrchestrator(t, Options{Cache: NewMemoryCache(), CacheTTL: time.Hour}, map[string]provider.Provider{"crunch": p})
	ctx := context.Background()

	_, err := o.RunTool(ctx, "crunch", nil)
	require.NoError(t, err)
	res, err := o.RunTool(ctx, "crunch", nil, WithCache(false))
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceProvider, res.Provenance)
	assert.Equal(t, int64(2), p.calls.Load())

	res, err = o.RunTool(ctx, "crunch", nil)
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceCache, res.Provenance)
}

func TestRunTool_TimeoutReleasesSlot(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := &countingProvider{fn: func(ctx context.Context, _ string, params map[string]any) (*provider.Response, error) {
		if params["block"] == true {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &provider.Response{Payload: map[string]any{"fast": true}}, nil
	}}
	reg := NewRegistry()
	require.NoError(t, reg.Register(meta("slow", 1), p))
	o := New(reg, Options{})
	ctx := context.Background()

	start := time.Now()
	res, err := o.RunTool(ctx, "slow", map[string]any{"block": true}, WithTimeout(30*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, resilience.KindTransient, res.ErrorKind)
	assert.Contains(t, res.Error, "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)

	res, err = o.RunTool(ctx, "slow", map[string]any{"block": false}, WithTimeout(time.Second))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRunToolsParallel_NeverExceedsConcurrencyLimit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var inFlight, peak atomic.Int64
	p := &countingProvider{fn: func(context.Context, string, map[string]any) (*provider.Response, error) {
		n := inFlight.Add(1)
		for {
			hi := peak.Load()
			if n <= hi || peak.CompareAndSwap(hi, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return &provider.Response{Payload: map[string]any{"ok": true}}, nil
	}}
	reg := NewRegistry()
	require.NoError(t, reg.Register(meta("gated", 2), p))
	o := New(reg, Options{})

	calls := make([]model.ToolCall, 5)
	for i := range calls {
		calls[i] = model.ToolCall{ID: fmt.Sprintf("c%d", i), ToolID: "gated", Params: map[string]any{"i": i}}
	}
	results := o.RunToolsParallel(context.Background(), calls, 5)

	require.Len(t, results, 5)
	for _, r := range results {
		assert.True(t, r.Result.Success, r.Call.ID)
	}
	assert.Equal(t, int64(5), p.calls.Load())
	assert.LessOrEqual(t, peak.Load(), int64(2))

	stats := o.Stats()
	require.Len(t, stats, 1)
	assert.LessOrEqual(t, stats[0].MaxInFlight, int64(2))
	assert.Equal(t, int64(0), stats[0].InFlight)
}

func TestRunToolsParallel_FailureIsolation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	failing := &countingProvider{fn: func(context.Context, string, map[string]any) (*provider.Response, error) {
		return nil, errors.New("boom")
	}}
	o := newOrchestrator(t, Options{}, map[string]provider.Provider{
		"good":     okProvider(map[string]any{"v": 1}, 1),
		"bad":      failing,
		"disabled": okProvider(nil, 0),
	})
	require.NoError(t, o.DisableTool("disabled"))

	calls := []model.ToolCall{
		{ID: "a", ToolID: "good"},
		{ID: "b", ToolID: "bad"},
		{ID: "c", ToolID: "disabled"},
		{ID: "d", ToolID: "missing"},
	}
	results := o.RunToolsParallel(context.Background(), calls, 2)
	require.Len(t, results, 4)

	byID := make(map[string]*model.ToolResult)
	for _, r := range results {
		byID[r.Call.ID] = r.Result
	}
	assert.True(t, byID["a"].Success)
	assert.Equal(t, "good", byID["a"].ToolID)
	assert.False(t, byID["b"].Success)
	assert.Equal(t, resilience.KindPermanent, byID["b"].ErrorKind)
	assert.Equal(t, resilience.KindValidation, byID["c"].ErrorKind)
	assert.Equal(t, resilience.KindValidation, byID["d"].ErrorKind)
}

func TestRunTool_QuotaWindowBlocksProvider(t *testing.T) {
	var attempt atomic.Int64
	p := &countingProvider{fn: func(context.Context, string, map[string]any) (*provider.Response, error) {
		if attempt.Add(1) == 1 {
			return nil, resilience.NewQuotaError(errors.New("credits exhausted"), time.Hour)
		}
		return &provider.Response{Payload: map[string]any{"ok": true}}, nil
	}}
	o := newOrchestrator(t, Options{}, map[string]provider.Provider{"paid": p})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return clock }
	ctx := context.Background()

	res, err := o.RunTool(ctx, "paid", nil)
	require.NoError(t, err)
	assert.Equal(t, resilience.KindQuota, res.ErrorKind)

	clock = clock.Add(30 * time.Minute)
	res, err = o.RunTool(ctx, "paid", nil)
	require.NoError(t, err)
	assert.Equal(t, resilience.KindQuota, res.ErrorKind)
	assert.Contains(t, res.Error, "quota window open")
	assert.Equal(t, int64(1), p.calls.Load())

	clock = clock.Add(31 * time.Minute)
	res, err = o.RunTool(ctx, "paid", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(2), p.calls.Load())
}

func TestRunTool_QuotaDefaultWindow(t *testing.T) {
	p := &countingProvider{fn: func(context.Context, string, map[string]any) (*provider.Response, error) {
		return nil, resilience.NewQuotaError(errors.New("credits exhausted"), 0)
	}}
	o := newOrchestrator(t, Options{QuotaWindow: 10 * time.Minute}, map[string]provider.Provider{"paid": p})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return clock }

	_, err := o.RunTool(context.Background(), "paid", nil)
	require.NoError(t, err)

	clock = clock.Add(9 * time.Minute)
	_, err = o.RunTool(context.Background(), "paid", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.calls.Load())

	clock = clock.Add(2 * time.Minute)
	_, err = o.RunTool(context.Background(), "paid", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.calls.Load())
}

func TestRunTool_RateLimitRejectsWithinDeadline(t *testing.T) {
	p := okProvider(map[string]any{"ok": true}, 1)
	reg := NewRegistry()
	m := meta("limited", 1)
	m.RateLimitPerMin = 1
	require.NoError(t, reg.Register(m, p))
	o := New(reg, Options{})
	ctx := context.Background()

	res, err := o.RunTool(ctx, "limited", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = o.RunTool(ctx, "limited", map[string]any{"n": 2}, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, resilience.KindTransient, res.ErrorKind)
	assert.Contains(t, res.Error, "rate limited")
	assert.Equal(t, int64(1), p.calls.Load())
}

func TestRunTool_CircuitOpensOnTransientFailures(t *testing.T) {
	p := &countingProvider{fn: func(context.Context, string, map[string]any) (*provider.Response, error) {
		return nil, resilience.NewTransientError(errors.New("upstream 502"), 502)
	}}
	reg := NewRegistry()
	require.NoError(t, reg.Register(meta("flaky", 1), p))
	o := New(reg, Options{Circuit: resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}})
	ctx := context.Background()

	for range 2 {
		res, err := o.RunTool(ctx, "flaky", nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
	}
	res, err := o.RunTool(ctx, "flaky", nil)
	require.NoError(t, err)
	assert.Equal(t, resilience.KindTransient, res.ErrorKind)
	assert.Contains(t, res.Error, "circuit breaker is open")
	assert.Equal(t, int64(2), p.calls.Load())
	assert.Equal(t, "open", o.Stats()[0].CircuitState)
}

func TestRunTool_ProviderPanicIsolated(t *testing.T) {
	p := &countingProvider{fn: func(context.Context, string, map[string]any) (*provider.Response, error) {
		panic("nil map")
	}}
	o := newOrchestrator(t, Options{}, map[string]provider.Provider{"crashy": p})

	res, err := o.RunTool(context.Background(), "crashy", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "provider panic")
	assert.Equal(t, resilience.KindPermanent, res.ErrorKind)
}

func TestRunTool_ProviderCannotMutateCallerParams(t *testing.T) {
	p := &countingProvider{fn: func(_ context.Context, _ string, params map[string]any) (*provider.Response, error) {
		params["injected"] = true
		return &provider.Response{}, nil
	}}
	o := newOrchestrator(t, Options{}, map[string]provider.Provider{"t": p})
	params := map[string]any{"entity_id": "acme"}

	res, err := o.RunTool(context.Background(), "t", params)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]any{}, res.Data)
	assert.NotContains(t, params, "injected")
}

func TestAdminChanges_DoNotAffectInFlightCalls(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	p := &countingProvider{fn: func(context.Context, string, map[string]any) (*provider.Response, error) {
		once.Do(func() { close(started) })
		<-release
		return &provider.Response{Payload: map[string]any{"ok": true}}, nil
	}}
	o := newOrchestrator(t, Options{}, map[string]provider.Provider{"t": p})

	var (
		wg  sync.WaitGroup
		res *model.ToolResult
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err = o.RunTool(context.Background(), "t", nil)
	}()

	<-started
	require.NoError(t, o.UpdateToolWeight("t", 0.2))
	require.NoError(t, o.DisableTool("t"))
	close(release)
	wg.Wait()

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)

	_, err = o.RunTool(context.Background(), "t", nil)
	assert.True(t, resilience.IsValidation(err))

	require.NoError(t, o.EnableTool("t"))
	res, err = o.RunTool(context.Background(), "t", nil, WithCache(false))
	require.NoError(t, err)
	assert.InDelta(t, 0.2, res.Confidence, 1e-9)
}

func TestAdmin_UnknownTool(t *testing.T) {
	o := newOrchestrator(t, Options{}, nil)
	assert.True(t, resilience.IsValidation(o.EnableTool("x")))
	assert.True(t, resilience.IsValidation(o.DisableTool("x")))
	assert.True(t, resilience.IsValidation(o.UpdateToolWeight("x", 1)))
}

func TestToolConfidence_Clamped(t *testing.T) {
	assert.Equal(t, 1.0, toolConfidence(model.ToolMeta{Weight: 3}))
	assert.Equal(t, 0.0, toolConfidence(model.ToolMeta{Weight: -1}))
	assert.Equal(t, 0.5, toolConfidence(model.ToolMeta{Weight: 0.5}))
}

func TestPruneCache(t *testing.T) {
	cache := NewMemoryCache()
	o := newOrchestrator(t, Options{Cache: cache}, nil)
	now := time.Now()
	require.NoError(t, cache.Put(context.Background(), model.NewCacheEntry("old", "t", []byte(`{}`), 1, time.Second, now.Add(-time.Hour))))
	require.NoError(t, cache.Put(context.Background(), model.NewCacheEntry("new", "t", []byte(`{}`), 1, time.Hour, now)))

	n, err := o.PruneCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, cache.Len())
	require.NoError(t, o.Close())
}
