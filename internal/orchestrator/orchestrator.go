// Package orchestrator dispatches tool calls to capability providers behind
// a result cache, per-tool concurrency gates, rate limits, quota windows,
// and circuit breakers.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/orchestrator/provider"
	"github.com/sells-group/target-signal/internal/resilience"
)

// Defaults applied by New when Options leaves a field zero.
const (
	DefaultMaxWorkers     = 8
	DefaultTimeout        = 30 * time.Second
	DefaultQuotaWindow    = time.Hour
	statusTooManyRequests = 429
)

// Options configures an Orchestrator. A zero CacheTTL stores entries that
// expire on their next lookup.
type Options struct {
	Cache          Cache
	CacheTTL       time.Duration
	MaxWorkers     int
	DefaultTimeout time.Duration
	QuotaWindow    time.Duration
	Circuit        resilience.CircuitBreakerConfig
}

// Orchestrator runs tools registered in a Registry.
type Orchestrator struct {
	registry       *Registry
	cache          Cache
	ttl            time.Duration
	maxWorkers     int
	defaultTimeout time.Duration
	quotaWindow    time.Duration
	breakers       *resilience.Breakers
	now            func() time.Time
}

// New creates an Orchestrator over reg.
func New(reg *Registry, opts Options) *Orchestrator {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.QuotaWindow <= 0 {
		opts.QuotaWindow = DefaultQuotaWindow
	}
	return &Orchestrator{
		registry:       reg,
		cache:          opts.Cache,
		ttl:            opts.CacheTTL,
		maxWorkers:     opts.MaxWorkers,
		defaultTimeout: opts.DefaultTimeout,
		quotaWindow:    opts.QuotaWindow,
		breakers:       resilience.NewBreakers(opts.Circuit),
		now:            time.Now,
	}
}

// Registry returns the orchestrator's tool registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// CallOption adjusts a single RunTool call.
type CallOption func(*callOptions)

type callOptions struct {
	useCache bool
	timeout  time.Duration
}

// WithCache toggles cache lookup. A bypassed lookup still refreshes the
// cache on success.
func WithCache(use bool) CallOption {
	return func(c *callOptions) { c.useCache = use }
}

// WithTimeout overrides the tool's timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callOptions) { c.timeout = d }
}

// RunTool executes one tool call. The returned error is non-nil only for
// validation failures (unknown or disabled tool, unserializable params);
// every other failure is captured on the ToolResult.
func (o *Orchestrator) RunTool(ctx context.Context, toolID string, params map[string]any, opts ...CallOption) (*model.ToolResult, error) {
	co := callOptions{useCache: true}
	for _, opt := range opts {
		opt(&co)
	}

	toolID = strings.TrimSpace(toolID)
	if toolID == "" {
		return nil, resilience.NewValidationError("tool_id", "required")
	}
	t, meta, ok := o.registry.lookup(toolID)
	if !ok {
		return nil, resilience.NewValidationError("tool_id", "unknown tool "+toolID)
	}
	if !meta.Enabled {
		return nil, resilience.NewValidationError("tool_id", "tool "+toolID+" is disabled")
	}
	key, err := CacheKey(toolID, params)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("tool", toolID))
	t.stats.calls.Add(1)

	if co.useCache && o.cache != nil {
		if res := o.fromCache(ctx, key, meta, log); res != nil {
			t.stats.cacheHits.Add(1)
			return res, nil
		}
	}

	return o.dispatch(ctx, t, meta, key, params, co, log), nil
}

func (o *Orchestrator) fromCache(ctx context.Context, key string, meta model.ToolMeta, log *zap.Logger) *model.ToolResult {
	entry, err := o.cache.Get(ctx, key)
	if err != nil {
		log.Warn("orchestrator: cache lookup failed", zap.Error(err))
		return nil
	}
	if entry == nil {
		return nil
	}
	if entry.Expired(o.now()) {
		if err := o.cache.Delete(ctx, key); err != nil {
			log.Warn("orchestrator: evict expired entry", zap.Error(err))
		}
		return nil
	}

	var data map[string]any
	if err := json.Unmarshal(entry.Payload, &data); err != nil {
		log.Warn("orchestrator: unreadable cache entry", zap.Error(err))
		_ = o.cache.Delete(ctx, key)
		return nil
	}

	log.Debug("orchestrator: cache hit", zap.Int64("cost_ms", entry.CostMs))
	return &model.ToolResult{
		ToolID:     meta.ToolID,
		Success:    true,
		Data:       data,
		CostMs:     entry.CostMs,
		Confidence: toolConfidence(meta),
		Provenance: model.ProvenanceCache,
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, t *tool, meta model.ToolMeta, key string, params map[string]any, co callOptions, log *zap.Logger) *model.ToolResult {
	toolID := meta.ToolID
	start := o.now()

	fail := func(err error) *model.ToolResult {
		cost := o.now().Sub(start).Milliseconds()
		t.stats.failures.Add(1)
		t.stats.totalCostMs.Add(cost)
		return &model.ToolResult{
			ToolID:     toolID,
			Success:    false,
			CostMs:     cost,
			Confidence: toolConfidence(meta),
			Provenance: model.ProvenanceProvider,
			Error:      err.Error(),
			ErrorKind:  resilience.Kind(err),
			Err:        err,
		}
	}

	if until, blocked := t.quotaBlockedUntil(start); blocked {
		return fail(resilience.NewQuotaError(
			eris.Errorf("orchestrator: %s quota window open until %s", toolID, until.Format(time.RFC3339)),
			until.Sub(start),
		))
	}

	breaker := o.breakers.Get(toolID)
	if err := breaker.Allow(); err != nil {
		return fail(resilience.NewTransientError(eris.Wrapf(err, "orchestrator: %s", toolID), 0))
	}

	timeout := co.timeout
	if timeout <= 0 {
		timeout = meta.Timeout
	}
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := t.sem.Acquire(callCtx, 1); err != nil {
		breaker.Release()
		return fail(resilience.NewTransientError(eris.Wrapf(err, "orchestrator: %s waiting for a concurrency slot", toolID), 0))
	}
	defer t.sem.Release(1)

	if t.limiter != nil {
		if err := t.limiter.Wait(callCtx); err != nil {
			breaker.Release()
			return fail(resilience.NewTransientError(eris.Wrapf(err, "orchestrator: %s rate limited", toolID), statusTooManyRequests))
		}
	}

	resp, err := invoke(callCtx, t, toolID, params)
	breaker.Record(err)
	if err != nil {
		var qe *resilience.QuotaError
		if errors.As(err, &qe) {
			window := qe.RetryAfter
			if window <= 0 {
				window = o.quotaWindow
			}
			t.blockQuota(o.now().Add(window))
			log.Warn("orchestrator: quota exhausted", zap.Duration("window", window), zap.Error(err))
		} else {
			log.Warn("orchestrator: tool call failed", zap.String("kind", resilience.Kind(err)), zap.Error(err))
		}
		return fail(err)
	}

	payload := map[string]any{}
	var cost int64
	var derived bool
	if resp != nil {
		if resp.Payload != nil {
			payload = resp.Payload
		}
		cost = resp.CostMs
		derived = resp.Derived
	}
	if cost <= 0 {
		cost = o.now().Sub(start).Milliseconds()
	}

	// Results go through JSON so a fresh result and its cached replay
	// carry identical values.
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fail(eris.Wrapf(err, "orchestrator: %s payload not serializable", toolID))
	}
	var data map[string]any
	if err := json.Unmarshal(encoded, &data); err != nil {
		return fail(eris.Wrapf(err, "orchestrator: %s payload decode", toolID))
	}

	if o.cache != nil {
		entry := model.NewCacheEntry(key, toolID, encoded, cost, o.ttl, o.now())
		if err := o.cache.Put(ctx, entry); err != nil {
			log.Warn("orchestrator: cache write failed", zap.Error(err))
		}
	}

	t.stats.totalCostMs.Add(cost)
	return &model.ToolResult{
		ToolID:     toolID,
		Success:    true,
		Data:       data,
		CostMs:     cost,
		Confidence: toolConfidence(meta),
		Provenance: model.ProvenanceProvider,
		Derived:    derived,
	}
}

type outcome struct {
	resp *provider.Response
	err  error
}

// invoke runs the provider in its own goroutine so a timeout returns (and
// frees the concurrency slot) without waiting for the provider to notice
// cancellation.
func invoke(ctx context.Context, t *tool, toolID string, params map[string]any) (*provider.Response, error) {
	done := make(chan outcome, 1)
	t.stats.enter()
	go func() {
		defer t.stats.leave()
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("orchestrator: provider panic", zap.String("tool", toolID), zap.Any("panic", r))
				done <- outcome{err: eris.Errorf("orchestrator: %s provider panic: %v", toolID, r)}
			}
		}()
		resp, err := t.provider.Invoke(ctx, toolID, maps.Clone(params))
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() != nil {
			return nil, timedOut(ctx, toolID)
		}
		return out.resp, out.err
	case <-ctx.Done():
		return nil, timedOut(ctx, toolID)
	}
}

func timedOut(ctx context.Context, toolID string) error {
	return resilience.NewTransientError(eris.Wrapf(ctx.Err(), "orchestrator: %s timed out", toolID), 0)
}

// RunToolsParallel runs calls with at most maxWorkers in flight (the
// orchestrator default when maxWorkers <= 0). Each result carries its
// originating call; results arrive in completion order.
func (o *Orchestrator) RunToolsParallel(ctx context.Context, calls []model.ToolCall, maxWorkers int) []model.ToolCallResult {
	if maxWorkers <= 0 {
		maxWorkers = o.maxWorkers
	}

	var (
		mu      sync.Mutex
		results = make([]model.ToolCallResult, 0, len(calls))
	)

	var g errgroup.Group
	g.SetLimit(maxWorkers)
	for _, call := range calls {
		g.Go(func() error {
			res, err := o.RunTool(ctx, call.ToolID, call.Params, WithCache(call.CacheEnabled()))
			if err != nil {
				res = &model.ToolResult{
					ToolID:     call.ToolID,
					Provenance: model.ProvenanceProvider,
					Error:      err.Error(),
					ErrorKind:  resilience.Kind(err),
					Err:        err,
				}
			}
			mu.Lock()
			results = append(results, model.ToolCallResult{Call: call, Result: res})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// EnableTool enables a tool for future calls.
func (o *Orchestrator) EnableTool(toolID string) error {
	if err := o.registry.Enable(toolID); err != nil {
		return err
	}
	zap.L().Info("orchestrator: tool enabled", zap.String("tool", toolID))
	return nil
}

// DisableTool disables a tool for future calls.
func (o *Orchestrator) DisableTool(toolID string) error {
	if err := o.registry.Disable(toolID); err != nil {
		return err
	}
	zap.L().Info("orchestrator: tool disabled", zap.String("tool", toolID))
	return nil
}

// UpdateToolWeight sets a tool's weight for future calls.
func (o *Orchestrator) UpdateToolWeight(toolID string, weight float64) error {
	if err := o.registry.SetWeight(toolID, weight); err != nil {
		return err
	}
	zap.L().Info("orchestrator: tool weight updated", zap.String("tool", toolID), zap.Float64("weight", weight))
	return nil
}

// Stats returns per-tool counters sorted by tool ID.
func (o *Orchestrator) Stats() []ToolStats {
	states := o.breakers.States()
	var out []ToolStats
	o.registry.each(func(id string, t *tool) {
		s := t.stats.snapshot(id)
		s.CircuitState = resilience.CircuitClosed.String()
		if st, ok := states[id]; ok {
			s.CircuitState = st.String()
		}
		out = append(out, s)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ToolID < out[j].ToolID })
	return out
}

// PruneCache deletes expired cache entries.
func (o *Orchestrator) PruneCache(ctx context.Context) (int, error) {
	if o.cache == nil {
		return 0, nil
	}
	n, err := o.cache.Prune(ctx, o.now())
	if err != nil {
		return 0, err
	}
	zap.L().Info("orchestrator: cache pruned", zap.Int("removed", n))
	return n, nil
}

// Close releases the cache.
func (o *Orchestrator) Close() error {
	if o.cache == nil {
		return nil
	}
	return o.cache.Close()
}

func toolConfidence(meta model.ToolMeta) float64 {
	return min(max(meta.Weight, 0), 1)
}
