package orchestrator

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/orchestrator/provider"
	"github.com/sells-group/target-signal/internal/resilience"
)

// tool is the registry's per-tool state. meta is guarded by Registry.mu;
// the gates are fixed at registration.
type tool struct {
	meta     model.ToolMeta
	provider provider.Provider
	sem      *semaphore.Weighted
	limiter  *rate.Limiter

	quotaMu    sync.Mutex
	quotaUntil time.Time

	stats counters
}

func (t *tool) quotaBlockedUntil(now time.Time) (time.Time, bool) {
	t.quotaMu.Lock()
	defer t.quotaMu.Unlock()
	return t.quotaUntil, now.Before(t.quotaUntil)
}

func (t *tool) blockQuota(until time.Time) {
	t.quotaMu.Lock()
	defer t.quotaMu.Unlock()
	if until.After(t.quotaUntil) {
		t.quotaUntil = until
	}
}

// Registry holds registered tools and their provider bindings. It is built
// once at startup and passed to the Orchestrator.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*tool),
	}
}

// Register binds meta.ToolID to p. Registering an existing tool ID fails.
func (r *Registry) Register(meta model.ToolMeta, p provider.Provider) error {
	switch {
	case meta.ToolID == "":
		return resilience.NewValidationError("tool_id", "required")
	case p == nil:
		return resilience.NewValidationError("provider", "required for "+meta.ToolID)
	case meta.ConcurrencyLimit < 1:
		return resilience.NewValidationError("concurrency_limit", fmt.Sprintf("must be >= 1 for %s", meta.ToolID))
	case meta.RateLimitPerMin < 0:
		return resilience.NewValidationError("rate_limit_per_min", fmt.Sprintf("must be >= 0 for %s", meta.ToolID))
	case meta.Weight < 0:
		return resilience.NewValidationError("weight", fmt.Sprintf("must be >= 0 for %s", meta.ToolID))
	}

	meta.Capabilities = slices.Clone(meta.Capabilities)
	if meta.Provider == "" {
		meta.Provider = p.Kind()
	}

	t := &tool{
		meta:     meta,
		provider: p,
		sem:      semaphore.NewWeighted(int64(meta.ConcurrencyLimit)),
	}
	if meta.RateLimitPerMin > 0 {
		burst := min(meta.RateLimitPerMin, meta.ConcurrencyLimit)
		t.limiter = rate.NewLimiter(rate.Limit(float64(meta.RateLimitPerMin)/60.0), burst)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[meta.ToolID]; ok {
		return resilience.NewValidationError("tool_id", "duplicate "+meta.ToolID)
	}
	r.tools[meta.ToolID] = t
	return nil
}

// Get returns a snapshot of the tool's metadata.
func (r *Registry) Get(toolID string) (model.ToolMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[toolID]
	if !ok {
		return model.ToolMeta{}, false
	}
	return snapshot(t.meta), true
}

// List returns metadata snapshots for every tool, sorted by ID.
func (r *Registry) List() []model.ToolMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ToolMeta, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, snapshot(t.meta))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolID < out[j].ToolID })
	return out
}

// Enable marks a tool enabled for future calls.
func (r *Registry) Enable(toolID string) error {
	return r.update(toolID, func(m *model.ToolMeta) { m.Enabled = true })
}

// Disable marks a tool disabled for future calls. Calls already in flight
// run to completion.
func (r *Registry) Disable(toolID string) error {
	return r.update(toolID, func(m *model.ToolMeta) { m.Enabled = false })
}

// SetWeight updates a tool's weight for future calls.
func (r *Registry) SetWeight(toolID string, weight float64) error {
	if weight < 0 {
		return resilience.NewValidationError("weight", "must be >= 0")
	}
	return r.update(toolID, func(m *model.ToolMeta) { m.Weight = weight })
}

func (r *Registry) update(toolID string, fn func(*model.ToolMeta)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[toolID]
	if !ok {
		return resilience.NewValidationError("tool_id", "unknown tool "+toolID)
	}
	fn(&t.meta)
	return nil
}

// lookup returns the tool and a metadata snapshot taken under the lock, so
// later administrative changes never affect the caller's view.
func (r *Registry) lookup(toolID string) (*tool, model.ToolMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[toolID]
	if !ok {
		return nil, model.ToolMeta{}, false
	}
	return t, snapshot(t.meta), true
}

func (r *Registry) each(fn func(id string, t *tool)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, t := range r.tools {
		fn(id, t)
	}
}

func snapshot(m model.ToolMeta) model.ToolMeta {
	m.Capabilities = slices.Clone(m.Capabilities)
	return m
}
