package model

import (
	"encoding/json"
	"time"
)

// ToolMeta describes a registered capability provider.
type ToolMeta struct {
	ToolID           string        `json:"tool_id" yaml:"tool_id"`
	Provider         string        `json:"provider" yaml:"provider"`
	Capabilities     []string      `json:"capabilities" yaml:"capabilities"`
	CostEstimateMs   int64         `json:"cost_estimate_ms" yaml:"cost_estimate_ms"`
	ConcurrencyLimit int           `json:"concurrency_limit" yaml:"concurrency_limit"`
	RateLimitPerMin  int           `json:"rate_limit_per_min" yaml:"rate_limit_per_min"`
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	Weight           float64       `json:"weight" yaml:"weight"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
}

// HasCapability reports whether the tool advertises the capability.
func (m ToolMeta) HasCapability(c string) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Provenance values for ToolResult.
const (
	ProvenanceProvider = "provider"
	ProvenanceCache    = "cache"
)

// ToolResult is the immutable outcome of one RunTool call.
type ToolResult struct {
	ToolID     string         `json:"tool_id"`
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data,omitempty"`
	CostMs     int64          `json:"cost_ms"`
	Confidence float64        `json:"confidence"`
	Provenance string         `json:"provenance"`
	Derived    bool           `json:"derived,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Err        error          `json:"-"`
}

// ToolCall is one request in a parallel batch. ID is caller-assigned and
// is echoed back on the matching result.
type ToolCall struct {
	ID       string         `json:"id,omitempty"`
	ToolID   string         `json:"tool_id"`
	Params   map[string]any `json:"params,omitempty"`
	UseCache *bool          `json:"use_cache,omitempty"`
}

// CacheEnabled returns the effective cache flag (default true).
func (c ToolCall) CacheEnabled() bool {
	return c.UseCache == nil || *c.UseCache
}

// ToolCallResult pairs a result with the call that produced it.
type ToolCallResult struct {
	Call   ToolCall    `json:"call"`
	Result *ToolResult `json:"result"`
}

// CacheEntry is a stored successful tool result.
type CacheEntry struct {
	Key       string          `json:"key"`
	ToolID    string          `json:"tool_id"`
	Payload   json.RawMessage `json:"payload"`
	CostMs    int64           `json:"cost_ms"`
	TTL       time.Duration   `json:"ttl"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the entry is no longer servable at now. Entries
// written with a non-positive TTL are expired on their first lookup.
func (e CacheEntry) Expired(now time.Time) bool {
	return e.TTL <= 0 || !now.Before(e.ExpiresAt)
}

// NewCacheEntry builds an entry keeping ExpiresAt strictly after CreatedAt.
func NewCacheEntry(key, toolID string, payload json.RawMessage, costMs int64, ttl time.Duration, now time.Time) CacheEntry {
	lifetime := ttl
	if lifetime <= 0 {
		lifetime = time.Nanosecond
	}
	return CacheEntry{
		Key:       key,
		ToolID:    toolID,
		Payload:   payload,
		CostMs:    costMs,
		TTL:       ttl,
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
	}
}
