package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Source type base weights must stay within this band.
const (
	MinSourceTypeWeight = 0.3
	MaxSourceTypeWeight = 0.9
)

// Each base dimension weight must stay within this band.
const (
	MinDimensionWeight = 5.0
	MaxDimensionWeight = 40.0
)

var validStoreDrivers = map[string]bool{"sqlite": true, "postgres": true}

var validCacheDrivers = map[string]bool{"memory": true, "store": true, "badger": true}

// Validate checks the merged configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validStoreDrivers[c.Store.Driver] {
		add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535")
	}

	if c.Confidence.SpreadRatio <= 0 || c.Confidence.SpreadRatio > 1 {
		add("confidence.spread_ratio must be in (0, 1]")
	}
	if len(c.Confidence.SourceTypes) == 0 {
		add("confidence.source_types must not be empty")
	}
	for name, w := range c.Confidence.SourceTypes {
		if w < MinSourceTypeWeight || w > MaxSourceTypeWeight {
			add("confidence.source_types.%s must be in [%.2f, %.2f]", name, MinSourceTypeWeight, MaxSourceTypeWeight)
		}
	}
	if _, ok := c.Confidence.SourceTypes[c.Confidence.DefaultSourceType]; !ok {
		add("confidence.default_source_type %q is not a known source type", c.Confidence.DefaultSourceType)
	}
	for src, typ := range c.Confidence.Sources {
		if _, ok := c.Confidence.SourceTypes[typ]; !ok {
			add("confidence.sources.%s maps to unknown source type %q", src, typ)
		}
	}
	if c.Confidence.DecayHalfLifeDays < 0 {
		add("confidence.decay_half_life_days must be >= 0")
	}
	if c.Confidence.DecayFloor < 0 || c.Confidence.DecayFloor > 1 {
		add("confidence.decay_floor must be in [0, 1]")
	}

	if c.Reliability.NumericTolerance < 0 {
		add("reliability.numeric_tolerance must be >= 0")
	}
	if c.Reliability.RefreshIntervalMins < 0 {
		add("reliability.refresh_interval_mins must be >= 0")
	}

	if len(c.Weights.Base) == 0 {
		add("weights.base must not be empty")
	}
	for dim, w := range c.Weights.Base {
		if w < MinDimensionWeight || w > MaxDimensionWeight {
			add("weights.base.%s must be in [%.0f, %.0f]", dim, MinDimensionWeight, MaxDimensionWeight)
		}
	}
	l := c.Weights.Learning
	if l.CountThreshold < 0 || l.MeanThreshold < 0 || l.GrowthDelta < 0 || l.TeamDelta < 0 {
		add("weights.learning thresholds and deltas must be >= 0")
	}

	o := c.Orchestrator
	if !validCacheDrivers[o.Cache.Driver] {
		add("orchestrator.cache.driver must be memory, store, or badger, got %q", o.Cache.Driver)
	}
	if o.Cache.TTLMins < 0 {
		add("orchestrator.cache.ttl_mins must be >= 0")
	}
	if o.Cache.Driver == "badger" && o.Cache.BadgerPath == "" {
		add("orchestrator.cache.badger_path is required for the badger driver")
	}
	if o.MaxWorkers < 1 {
		add("orchestrator.max_workers must be >= 1")
	}
	if o.DefaultTimeoutSecs < 0 || o.QuotaWindowSecs < 0 {
		add("orchestrator timeouts must be >= 0")
	}

	seen := make(map[string]bool, len(c.Tools))
	for i, t := range c.Tools {
		switch {
		case t.ID == "":
			add("tools[%d].id is required", i)
		case seen[t.ID]:
			add("tools[%d].id %q is duplicated", i, t.ID)
		}
		seen[t.ID] = true
		if t.Provider == "" {
			add("tools[%d].provider is required", i)
		}
		if t.ConcurrencyLimit < 1 {
			add("tools[%d].concurrency_limit must be >= 1", i)
		}
		if t.RateLimitPerMin < 0 {
			add("tools[%d].rate_limit_per_min must be >= 0", i)
		}
		if t.Weight < 0 {
			add("tools[%d].weight must be >= 0", i)
		}
		if t.CostEstimateMs < 0 || t.TimeoutSecs < 0 {
			add("tools[%d] cost and timeout must be >= 0", i)
		}
	}

	if len(c.Scoring.Tiers) == 0 {
		add("scoring.tiers must not be empty")
	}
	tierNames := make(map[string]bool, len(c.Scoring.Tiers))
	for i, t := range c.Scoring.Tiers {
		if t.Name == "" {
			add("scoring.tiers[%d].name is required", i)
		} else if tierNames[t.Name] {
			add("scoring.tiers[%d].name %q is duplicated", i, t.Name)
		}
		tierNames[t.Name] = true
	}
	if c.Scoring.LowConfidenceThreshold < 0 || c.Scoring.LowConfidenceThreshold > 1 {
		add("scoring.low_confidence_threshold must be in [0, 1]")
	}
	if c.Pipeline.InputSource == "" {
		add("pipeline.input_source is required")
	}

	m := c.Monitoring
	if m.CheckIntervalSecs < 0 || m.MinCalls < 0 {
		add("monitoring interval and min_calls must be >= 0")
	}
	if m.FailureRateThreshold < 0 || m.FailureRateThreshold > 1 {
		add("monitoring.failure_rate_threshold must be in [0, 1]")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RequireAnthropic reports whether any enabled tool needs an Anthropic key
// and, if so, that the key is set.
func (c *Config) RequireAnthropic() error {
	for _, t := range c.Tools {
		if t.Enabled && t.Provider == "llm_analyst" && c.Anthropic.Key == "" {
			return eris.Errorf("config: anthropic.key is required by tool %q", t.ID)
		}
	}
	return nil
}
