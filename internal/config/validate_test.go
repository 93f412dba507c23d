package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "signals.db"
	cfg.Server.Port = 8080
	cfg.Confidence.SpreadRatio = 0.35
	cfg.Confidence.DefaultSourceType = "estimation"
	cfg.Confidence.SourceTypes = DefaultSourceTypes()
	cfg.Confidence.DecayFloor = 0.25
	cfg.Reliability.NumericTolerance = 0.1
	cfg.Weights.Base = DefaultBaseWeights()
	cfg.Orchestrator.Cache.Driver = "memory"
	cfg.Orchestrator.MaxWorkers = 4
	cfg.Tools = []ToolConfig{{ID: "history", Provider: "observation_history", ConcurrencyLimit: 1, Enabled: true, Weight: 0.5}}
	cfg.Scoring.Tiers = []TierConfig{{Name: "pursue", MinScore: 3.5}, {Name: "pass"}}
	cfg.Scoring.LowConfidenceThreshold = 0.4
	cfg.Pipeline.InputSource = "analyst"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate())
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"store driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"spread ratio", func(c *Config) { c.Confidence.SpreadRatio = 0 }, "confidence.spread_ratio"},
		{"source type weight", func(c *Config) { c.Confidence.SourceTypes["rumor"] = 0.1 }, "confidence.source_types.rumor"},
		{"default source type", func(c *Config) { c.Confidence.DefaultSourceType = "gossip" }, "default_source_type"},
		{"unknown mapped type", func(c *Config) { c.Confidence.Sources = map[string]string{"pitchbook": "oracle"} }, "confidence.sources.pitchbook"},
		{"base weight band", func(c *Config) { c.Weights.Base["team"] = 45 }, "weights.base.team"},
		{"empty base", func(c *Config) { c.Weights.Base = nil }, "weights.base must not be empty"},
		{"negative delta", func(c *Config) { c.Weights.Learning.GrowthDelta = -1 }, "weights.learning"},
		{"cache driver", func(c *Config) { c.Orchestrator.Cache.Driver = "redis" }, "orchestrator.cache.driver"},
		{"badger path", func(c *Config) {
			c.Orchestrator.Cache.Driver = "badger"
			c.Orchestrator.Cache.BadgerPath = ""
		}, "badger_path"},
		{"workers", func(c *Config) { c.Orchestrator.MaxWorkers = 0 }, "max_workers"},
		{"tool id", func(c *Config) { c.Tools[0].ID = "" }, "tools[0].id is required"},
		{"duplicate tool", func(c *Config) { c.Tools = append(c.Tools, c.Tools[0]) }, "duplicated"},
		{"concurrency", func(c *Config) { c.Tools[0].ConcurrencyLimit = 0 }, "concurrency_limit must be >= 1"},
		{"rate", func(c *Config) { c.Tools[0].RateLimitPerMin = -1 }, "rate_limit_per_min"},
		{"tool weight", func(c *Config) { c.Tools[0].Weight = -0.5 }, "tools[0].weight"},
		{"no tiers", func(c *Config) { c.Scoring.Tiers = nil }, "scoring.tiers must not be empty"},
		{"duplicate tier", func(c *Config) { c.Scoring.Tiers[1].Name = "pursue" }, "scoring.tiers[1].name"},
		{"low confidence", func(c *Config) { c.Scoring.LowConfidenceThreshold = 1.5 }, "low_confidence_threshold"},
		{"monitoring interval", func(c *Config) { c.Monitoring.CheckIntervalSecs = -1 }, "monitoring interval"},
		{"monitoring threshold", func(c *Config) { c.Monitoring.FailureRateThreshold = 2 }, "monitoring.failure_rate_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Orchestrator.MaxWorkers = 0
	cfg.Pipeline.InputSource = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "max_workers")
	assert.Contains(t, err.Error(), "pipeline.input_source")
}

func TestRequireAnthropic(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.RequireAnthropic())

	cfg.Tools = append(cfg.Tools, ToolConfig{ID: "analyst", Provider: "llm_analyst", ConcurrencyLimit: 1, Enabled: true})
	err := cfg.RequireAnthropic()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")

	cfg.Anthropic.Key = "sk-ant"
	assert.NoError(t, cfg.RequireAnthropic())
}
