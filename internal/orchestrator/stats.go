package orchestrator

import (
	"sync/atomic"
)

// ToolStats is a point-in-time snapshot of one tool's counters.
type ToolStats struct {
	ToolID       string `json:"tool_id" yaml:"tool_id"`
	Calls        int64  `json:"calls" yaml:"calls"`
	CacheHits    int64  `json:"cache_hits" yaml:"cache_hits"`
	Failures     int64  `json:"failures" yaml:"failures"`
	InFlight     int64  `json:"in_flight" yaml:"in_flight"`
	MaxInFlight  int64  `json:"max_in_flight" yaml:"max_in_flight"`
	TotalCostMs  int64  `json:"total_cost_ms" yaml:"total_cost_ms"`
	CircuitState string `json:"circuit_state" yaml:"circuit_state"`
}

type counters struct {
	calls       atomic.Int64
	cacheHits   atomic.Int64
	failures    atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	totalCostMs atomic.Int64
}

// enter records a provider dispatch and tracks the high-water mark.
func (c *counters) enter() {
	n := c.inFlight.Add(1)
	for {
		hi := c.maxInFlight.Load()
		if n <= hi || c.maxInFlight.CompareAndSwap(hi, n) {
			return
		}
	}
}

func (c *counters) leave() {
	c.inFlight.Add(-1)
}

func (c *counters) snapshot(toolID string) ToolStats {
	return ToolStats{
		ToolID:      toolID,
		Calls:       c.calls.Load(),
		CacheHits:   c.cacheHits.Load(),
		Failures:    c.failures.Load(),
		InFlight:    c.inFlight.Load(),
		MaxInFlight: c.maxInFlight.Load(),
		TotalCostMs: c.totalCostMs.Load(),
	}
}
