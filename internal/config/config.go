package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Confidence   ConfidenceConfig   `yaml:"confidence" mapstructure:"confidence"`
	Reliability  ReliabilityConfig  `yaml:"reliability" mapstructure:"reliability"`
	Weights      WeightsConfig      `yaml:"weights" mapstructure:"weights"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Tools        []ToolConfig       `yaml:"tools" mapstructure:"tools"`
	Scoring      ScoringConfig      `yaml:"scoring" mapstructure:"scoring"`
	Pipeline     PipelineConfig     `yaml:"pipeline" mapstructure:"pipeline"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ConfidenceConfig configures the confidence engine.
type ConfidenceConfig struct {
	SpreadRatio       float64            `yaml:"spread_ratio" mapstructure:"spread_ratio"`
	DefaultSourceType string             `yaml:"default_source_type" mapstructure:"default_source_type"`
	SourceTypes       map[string]float64 `yaml:"source_types" mapstructure:"source_types"`
	// Sources maps a source name to its type. Keys are case-insensitive.
	Sources           map[string]string `yaml:"sources" mapstructure:"sources"`
	DecayHalfLifeDays float64           `yaml:"decay_half_life_days" mapstructure:"decay_half_life_days"`
	DecayFloor        float64           `yaml:"decay_floor" mapstructure:"decay_floor"`
}

// ReliabilityConfig configures the source reliability estimator.
type ReliabilityConfig struct {
	NumericTolerance    float64 `yaml:"numeric_tolerance" mapstructure:"numeric_tolerance"`
	RefreshIntervalMins int     `yaml:"refresh_interval_mins" mapstructure:"refresh_interval_mins"`
}

// WeightsConfig configures the weight adaptation engine.
type WeightsConfig struct {
	Base     map[string]float64 `yaml:"base" mapstructure:"base"`
	Learning LearningConfig     `yaml:"learning" mapstructure:"learning"`
}

// LearningConfig holds the history heuristic thresholds and deltas.
type LearningConfig struct {
	CountThreshold   int      `yaml:"count_threshold" mapstructure:"count_threshold"`
	MeanThreshold    float64  `yaml:"mean_threshold" mapstructure:"mean_threshold"`
	OutcomeField     string   `yaml:"outcome_field" mapstructure:"outcome_field"`
	GrowthDimensions []string `yaml:"growth_dimensions" mapstructure:"growth_dimensions"`
	GrowthDelta      float64  `yaml:"growth_delta" mapstructure:"growth_delta"`
	TeamDimensions   []string `yaml:"team_dimensions" mapstructure:"team_dimensions"`
	TeamDelta        float64  `yaml:"team_delta" mapstructure:"team_delta"`
}

// OrchestratorConfig configures tool dispatch.
type OrchestratorConfig struct {
	Cache              CacheConfig   `yaml:"cache" mapstructure:"cache"`
	MaxWorkers         int           `yaml:"max_workers" mapstructure:"max_workers"`
	DefaultTimeoutSecs int           `yaml:"default_timeout_secs" mapstructure:"default_timeout_secs"`
	QuotaWindowSecs    int           `yaml:"quota_window_secs" mapstructure:"quota_window_secs"`
	Retry              RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit            CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// CacheConfig configures the tool result cache.
type CacheConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	TTLMins    int    `yaml:"ttl_mins" mapstructure:"ttl_mins"`
	BadgerPath string `yaml:"badger_path" mapstructure:"badger_path"`
}

// RetryConfig configures caller-driven retries of transient tool failures.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures per-tool circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ToolConfig declares one registered tool.
type ToolConfig struct {
	ID               string         `yaml:"id" mapstructure:"id"`
	Provider         string         `yaml:"provider" mapstructure:"provider"`
	Capabilities     []string       `yaml:"capabilities" mapstructure:"capabilities"`
	CostEstimateMs   int64          `yaml:"cost_estimate_ms" mapstructure:"cost_estimate_ms"`
	ConcurrencyLimit int            `yaml:"concurrency_limit" mapstructure:"concurrency_limit"`
	RateLimitPerMin  int            `yaml:"rate_limit_per_min" mapstructure:"rate_limit_per_min"`
	Enabled          bool           `yaml:"enabled" mapstructure:"enabled"`
	Weight           float64        `yaml:"weight" mapstructure:"weight"`
	TimeoutSecs      int            `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Options          map[string]any `yaml:"options" mapstructure:"options"`
}

// ScoringConfig configures the scoring pipeline.
type ScoringConfig struct {
	Tiers                  []TierConfig `yaml:"tiers" mapstructure:"tiers"`
	LowConfidenceThreshold float64      `yaml:"low_confidence_threshold" mapstructure:"low_confidence_threshold"`
}

// TierConfig is one row of the recommendation threshold table.
type TierConfig struct {
	Name     string  `yaml:"name" mapstructure:"name"`
	MinScore float64 `yaml:"min_score" mapstructure:"min_score"`
}

// PipelineConfig configures the evaluation pipeline.
type PipelineConfig struct {
	InputSource string `yaml:"input_source" mapstructure:"input_source"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// MonitoringConfig configures tool health alerting.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinCalls             int     `yaml:"min_calls" mapstructure:"min_calls"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// DefaultSourceTypes is the built-in source type to base weight table.
func DefaultSourceTypes() map[string]float64 {
	return map[string]float64{
		"direct_report":      0.9,
		"regulatory_filing":  0.85,
		"financial_database": 0.75,
		"news":               0.6,
		"web":                0.5,
		"estimation":         0.3,
	}
}

// DefaultBaseWeights is the built-in dimension weight vector.
func DefaultBaseWeights() map[string]float64 {
	return map[string]float64{
		"team":       25,
		"market":     20,
		"product":    15,
		"traction":   20,
		"financials": 15,
		"media":      5,
	}
}

// Load reads configuration from .env, file, and environment, then validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TARGET_SIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Weights.Base = mergeWeights(DefaultBaseWeights(), cfg.Weights.Base)
	cfg.Confidence.SourceTypes = mergeWeights(DefaultSourceTypes(), cfg.Confidence.SourceTypes)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeWeights overlays configured entries on the built-in table so a
// partial map only replaces the keys it names.
func mergeWeights(defaults, configured map[string]float64) map[string]float64 {
	for k, w := range configured {
		defaults[k] = w
	}
	return defaults
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "target-signal.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("confidence.spread_ratio", 0.35)
	v.SetDefault("confidence.default_source_type", "estimation")
	v.SetDefault("confidence.decay_half_life_days", 0)
	v.SetDefault("confidence.decay_floor", 0.25)
	v.SetDefault("reliability.numeric_tolerance", 0.1)
	v.SetDefault("reliability.refresh_interval_mins", 60)
	v.SetDefault("weights.learning.count_threshold", 100)
	v.SetDefault("weights.learning.mean_threshold", 2.5)
	v.SetDefault("weights.learning.outcome_field", "outcome_score")
	v.SetDefault("weights.learning.growth_dimensions", []string{"traction"})
	v.SetDefault("weights.learning.growth_delta", 5)
	v.SetDefault("weights.learning.team_dimensions", []string{"team", "media"})
	v.SetDefault("weights.learning.team_delta", 5)
	v.SetDefault("orchestrator.cache.driver", "memory")
	v.SetDefault("orchestrator.cache.ttl_mins", 60)
	v.SetDefault("orchestrator.cache.badger_path", "data/tool-cache")
	v.SetDefault("orchestrator.max_workers", 8)
	v.SetDefault("orchestrator.default_timeout_secs", 30)
	v.SetDefault("orchestrator.quota_window_secs", 3600)
	v.SetDefault("orchestrator.retry.max_attempts", 3)
	v.SetDefault("orchestrator.retry.initial_backoff_ms", 500)
	v.SetDefault("orchestrator.retry.max_backoff_ms", 30000)
	v.SetDefault("orchestrator.retry.multiplier", 2.0)
	v.SetDefault("orchestrator.retry.jitter_fraction", 0.25)
	v.SetDefault("orchestrator.circuit.failure_threshold", 5)
	v.SetDefault("orchestrator.circuit.reset_timeout_secs", 30)
	v.SetDefault("tools", []map[string]any{
		{
			"id":                "observation_history",
			"provider":          "observation_history",
			"capabilities":      []string{"history"},
			"cost_estimate_ms":  5,
			"concurrency_limit": 4,
			"enabled":           true,
			"weight":            0.8,
		},
	})
	v.SetDefault("scoring.tiers", []map[string]any{
		{"name": "priority", "min_score": 4.5},
		{"name": "pursue", "min_score": 3.5},
		{"name": "monitor", "min_score": 2.5},
		{"name": "pass", "min_score": 0},
	})
	v.SetDefault("scoring.low_confidence_threshold", 0.4)
	v.SetDefault("pipeline.input_source", "analyst")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_calls", 5)
	v.SetDefault("monitoring.webhook_url", "")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
