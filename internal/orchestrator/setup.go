package orchestrator

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/target-signal/internal/config"
	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/orchestrator/provider"
	"github.com/sells-group/target-signal/internal/resilience"
)

// OpenCache opens the configured cache backend. st backs the "store" driver.
func OpenCache(cfg config.CacheConfig, st CacheStore) (Cache, error) {
	switch cfg.Driver {
	case "", CacheDriverMemory:
		return NewMemoryCache(), nil
	case CacheDriverStore:
		if st == nil {
			return nil, eris.New("orchestrator: store cache requires a store")
		}
		return NewStoreCache(st), nil
	case CacheDriverBadger:
		return OpenBadgerCache(cfg.BadgerPath)
	default:
		return nil, eris.Errorf("orchestrator: unknown cache driver %q", cfg.Driver)
	}
}

// Build assembles an Orchestrator from configuration. Every configured tool
// is bound to a provider from the registration table at startup.
func Build(cfg *config.Config, st CacheStore, providers *provider.Registry, deps provider.Deps) (*Orchestrator, error) {
	reg := NewRegistry()
	for _, tc := range cfg.Tools {
		p, err := providers.Build(tc.Provider, tc.Options, deps)
		if err != nil {
			return nil, eris.Wrapf(err, "orchestrator: tool %s", tc.ID)
		}
		if err := reg.Register(ToolMetaFromConfig(tc), p); err != nil {
			return nil, eris.Wrapf(err, "orchestrator: register %s", tc.ID)
		}
		zap.L().Debug("orchestrator: tool registered",
			zap.String("tool", tc.ID),
			zap.String("provider", tc.Provider),
			zap.Bool("enabled", tc.Enabled),
		)
	}

	oc := cfg.Orchestrator
	cache, err := OpenCache(oc.Cache, st)
	if err != nil {
		return nil, err
	}

	return New(reg, Options{
		Cache:          cache,
		CacheTTL:       time.Duration(oc.Cache.TTLMins) * time.Minute,
		MaxWorkers:     oc.MaxWorkers,
		DefaultTimeout: time.Duration(oc.DefaultTimeoutSecs) * time.Second,
		QuotaWindow:    time.Duration(oc.QuotaWindowSecs) * time.Second,
		Circuit:        resilience.FromCircuitConfig(oc.Circuit.FailureThreshold, oc.Circuit.ResetTimeoutSecs),
	}), nil
}

// ToolMetaFromConfig converts a tool declaration to registry metadata.
func ToolMetaFromConfig(tc config.ToolConfig) model.ToolMeta {
	return model.ToolMeta{
		ToolID:           tc.ID,
		Provider:         tc.Provider,
		Capabilities:     tc.Capabilities,
		CostEstimateMs:   tc.CostEstimateMs,
		ConcurrencyLimit: tc.ConcurrencyLimit,
		RateLimitPerMin:  tc.RateLimitPerMin,
		Enabled:          tc.Enabled,
		Weight:           tc.Weight,
		Timeout:          time.Duration(tc.TimeoutSecs) * time.Second,
	}
}
