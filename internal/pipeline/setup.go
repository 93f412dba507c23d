package pipeline

import (
	"github.com/sells-group/target-signal/internal/confidence"
	"github.com/sells-group/target-signal/internal/config"
	"github.com/sells-group/target-signal/internal/observation"
	"github.com/sells-group/target-signal/internal/resilience"
	"github.com/sells-group/target-signal/internal/scorer"
	"github.com/sells-group/target-signal/internal/store"
	"github.com/sells-group/target-signal/internal/weights"
)

// Build wires a Pipeline from configuration over st. tools may be nil when
// no data sources are configured.
func Build(cfg *config.Config, st store.Store, tools ToolRunner) (*Pipeline, error) {
	inputSource := cfg.Pipeline.InputSource
	if inputSource == "" {
		inputSource = DefaultInputSource
	}
	// Analyst inputs are direct reports unless configured otherwise.
	names := make(map[string]string, len(cfg.Confidence.Sources)+1)
	names[inputSource] = confidence.TypeDirectReport
	for name, typ := range cfg.Confidence.Sources {
		names[name] = typ
	}
	sources := confidence.NewSourceTable(cfg.Confidence.SourceTypes, names, cfg.Confidence.DefaultSourceType)
	engine := confidence.NewEngine(sources, confidence.Options{
		SpreadRatio: cfg.Confidence.SpreadRatio,
		Decay: confidence.DecayConfig{
			HalfLifeDays: cfg.Confidence.DecayHalfLifeDays,
			Floor:        cfg.Confidence.DecayFloor,
		},
	})

	lc := cfg.Weights.Learning
	learning := weights.LearningConfig{
		CountThreshold:   lc.CountThreshold,
		MeanThreshold:    lc.MeanThreshold,
		OutcomeField:     lc.OutcomeField,
		GrowthDimensions: lc.GrowthDimensions,
		GrowthDelta:      lc.GrowthDelta,
		TeamDimensions:   lc.TeamDimensions,
		TeamDelta:        lc.TeamDelta,
	}

	tiers, err := scorer.TableFromConfig(cfg.Scoring.Tiers)
	if err != nil {
		return nil, err
	}

	rc := cfg.Orchestrator.Retry
	return New(Deps{
		Store:        st,
		Observations: observation.NewLog(st),
		Reliability:  observation.NewEstimator(st, sources, cfg.Reliability.NumericTolerance),
		Confidence:   engine,
		Weights:      weights.NewEngine(cfg.Weights.Base, learning, st),
		Tools:        tools,
		Tiers:        tiers,
	}, Options{
		InputSource:   inputSource,
		LowConfidence: cfg.Scoring.LowConfidenceThreshold,
		MaxWorkers:    cfg.Orchestrator.MaxWorkers,
		Retry:         resilience.FromRetryConfig(rc.MaxAttempts, rc.InitialBackoffMs, rc.MaxBackoffMs, rc.Multiplier, rc.JitterFraction),
	}), nil
}
