// Package monitoring watches orchestrator tool health and raises alerts when
// a tool's failure rate or circuit state crosses configured thresholds.
package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/sells-group/target-signal/internal/orchestrator"
)

// ToolHealth is one tool's activity since the previous collection.
type ToolHealth struct {
	ToolID       string  `json:"tool_id"`
	Calls        int64   `json:"calls"`
	CacheHits    int64   `json:"cache_hits"`
	Failures     int64   `json:"failures"`
	FailRate     float64 `json:"fail_rate"`
	InFlight     int64   `json:"in_flight"`
	CircuitState string  `json:"circuit_state"`
}

// MetricsSnapshot holds a point-in-time view of tool health.
type MetricsSnapshot struct {
	Tools       []ToolHealth  `json:"tools"`
	Window      time.Duration `json:"window"`
	CollectedAt time.Time     `json:"collected_at"`
}

// StatsSource reports cumulative per-tool counters.
// *orchestrator.Orchestrator implements it.
type StatsSource interface {
	Stats() []orchestrator.ToolStats
}

// Collector turns cumulative tool counters into per-window deltas.
type Collector struct {
	source StatsSource
	now    func() time.Time

	mu       sync.Mutex
	previous map[string]orchestrator.ToolStats
	lastAt   time.Time
}

// NewCollector creates a collector over source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source:   source,
		now:      time.Now,
		previous: make(map[string]orchestrator.ToolStats),
	}
}

// Collect returns activity since the previous call. The first call covers
// everything since the orchestrator started.
func (c *Collector) Collect() *MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	snap := &MetricsSnapshot{CollectedAt: now}
	if !c.lastAt.IsZero() {
		snap.Window = now.Sub(c.lastAt)
	}

	for _, s := range c.source.Stats() {
		prev := c.previous[s.ToolID]
		h := ToolHealth{
			ToolID:       s.ToolID,
			Calls:        s.Calls - prev.Calls,
			CacheHits:    s.CacheHits - prev.CacheHits,
			Failures:     s.Failures - prev.Failures,
			InFlight:     s.InFlight,
			CircuitState: s.CircuitState,
		}
		if dispatched := h.Calls - h.CacheHits; dispatched > 0 {
			h.FailRate = float64(h.Failures) / float64(dispatched)
		}
		snap.Tools = append(snap.Tools, h)
		c.previous[s.ToolID] = s
	}
	c.lastAt = now

	sort.Slice(snap.Tools, func(i, j int) bool { return snap.Tools[i].ToolID < snap.Tools[j].ToolID })
	return snap
}
