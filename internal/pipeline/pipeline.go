// Package pipeline runs entity evaluations: it records analyst inputs,
// gathers data from tools, reconciles observations into per-dimension
// estimates and scores the result against the current weight vector.
package pipeline

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/target-signal/internal/confidence"
	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/observation"
	"github.com/sells-group/target-signal/internal/orchestrator"
	"github.com/sells-group/target-signal/internal/resilience"
	"github.com/sells-group/target-signal/internal/scorer"
	"github.com/sells-group/target-signal/internal/weights"
)

// DefaultInputSource is the source name recorded for analyst dimension inputs.
const DefaultInputSource = "analyst"

// DefaultLowConfidence is the overall confidence below which an evaluation
// is flagged.
const DefaultLowConfidence = 0.4

// ToolRunner dispatches tool calls. *orchestrator.Orchestrator implements it.
type ToolRunner interface {
	RunTool(ctx context.Context, toolID string, params map[string]any, opts ...orchestrator.CallOption) (*model.ToolResult, error)
	RunToolsParallel(ctx context.Context, calls []model.ToolCall, maxWorkers int) []model.ToolCallResult
}

// Store is the slice of persistence the pipeline writes to directly.
type Store interface {
	SaveEstimate(ctx context.Context, est *model.Estimate) error
	ListEstimates(ctx context.Context, entityID string, limit int) ([]model.Estimate, error)
	HistoryAggregates(ctx context.Context, outcomeField string) (*model.HistoryAggregates, error)
}

// Deps holds the collaborators of a Pipeline.
type Deps struct {
	Store        Store
	Observations *observation.Log
	Reliability  *observation.Estimator
	Confidence   *confidence.Engine
	Weights      *weights.Engine
	Tools        ToolRunner
	Tiers        *scorer.Table
}

// Options tunes a Pipeline.
type Options struct {
	InputSource   string
	LowConfidence float64
	MaxWorkers    int
	Retry         resilience.RetryConfig
}

// Pipeline orchestrates evaluations. It is safe for concurrent use.
type Pipeline struct {
	store         Store
	observations  *observation.Log
	reliability   *observation.Estimator
	confidence    *confidence.Engine
	weights       *weights.Engine
	tools         ToolRunner
	tiers         *scorer.Table
	inputSource   string
	lowConfidence float64
	maxWorkers    int
	retry         resilience.RetryConfig
	now           func() time.Time
}

// New creates a Pipeline. A nil tier table uses scorer.DefaultTiers.
func New(d Deps, opts Options) *Pipeline {
	if opts.InputSource == "" {
		opts.InputSource = DefaultInputSource
	}
	if opts.LowConfidence <= 0 {
		opts.LowConfidence = DefaultLowConfidence
	}
	tiers := d.Tiers
	if tiers == nil {
		tiers, _ = scorer.NewTable(scorer.DefaultTiers())
	}
	return &Pipeline{
		store:         d.Store,
		observations:  d.Observations,
		reliability:   d.Reliability,
		confidence:    d.Confidence,
		weights:       d.Weights,
		tools:         d.Tools,
		tiers:         tiers,
		inputSource:   opts.InputSource,
		lowConfidence: opts.LowConfidence,
		maxWorkers:    opts.MaxWorkers,
		retry:         opts.Retry,
		now:           time.Now,
	}
}

// Observations returns the observation log.
func (p *Pipeline) Observations() *observation.Log { return p.observations }

// Reliability returns the source reliability estimator.
func (p *Pipeline) Reliability() *observation.Estimator { return p.reliability }

// Weights returns the weight engine.
func (p *Pipeline) Weights() *weights.Engine { return p.weights }

// Tiers returns the recommendation tier table.
func (p *Pipeline) Tiers() *scorer.Table { return p.tiers }

// Evaluate scores one entity. Tool failures and missing data become reasons
// on the response; only validation, persistence and weight consistency
// failures abort the evaluation.
func (p *Pipeline) Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResponse, error) {
	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		return nil, resilience.NewValidationError("entity_id", "must not be empty")
	}
	for dim, v := range req.DimensionInputs {
		if strings.TrimSpace(dim) == "" {
			return nil, resilience.NewValidationError("dimension_inputs", "dimension name must not be empty")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, resilience.NewValidationError("dimension_inputs", fmt.Sprintf("%s must be finite", dim))
		}
	}

	log := zap.L().With(zap.String("entity_id", entityID))
	now := p.now().UTC()

	wv, err := p.weights.Current(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load weights")
	}

	// Phase 1: analyst inputs.
	for _, dim := range sortedKeys(req.DimensionInputs) {
		if _, err := p.observations.RecordObservation(ctx, entityID, dim, req.DimensionInputs[dim], p.inputSource, now); err != nil {
			return nil, eris.Wrapf(err, "pipeline: record input %s", dim)
		}
	}

	// Phase 2: data sources.
	var reasons []string
	toolResults := p.runSources(ctx, entityID, req.DataSources)
	for _, tr := range toolResults {
		res := tr.Result
		if res == nil || !res.Success {
			reasons = append(reasons, failureReason(tr))
			continue
		}
		// Cache hits were recorded when first fetched; derived payloads
		// restate the log itself.
		if res.Provenance != model.ProvenanceProvider || res.Derived {
			continue
		}
		n, err := p.recordPayload(ctx, entityID, res, now)
		if err != nil {
			return nil, err
		}
		log.Debug("pipeline: tool observations recorded",
			zap.String("tool", res.ToolID),
			zap.Int("observations", n),
		)
	}

	// Phase 3: per-dimension estimates.
	dims := wv.Dimensions()
	estimates := make(map[string]model.Estimate, len(dims))
	points := make(map[string]float64, len(dims))
	confs := make(map[string]float64, len(dims))
	for _, dim := range dims {
		est, err := p.estimate(ctx, entityID, dim)
		if err != nil {
			return nil, err
		}
		if est.ObservationCount == 0 {
			reasons = append(reasons, "insufficient data: "+dim)
		}
		estimates[dim] = est
		points[dim] = est.PointEstimate
		confs[dim] = est.Confidence
	}

	// Phase 4: score.
	result, err := scorer.Evaluate(points, *wv, p.tiers)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: score")
	}
	overall := scorer.WeightedConfidence(confs, *wv)
	if overall < p.lowConfidence {
		reasons = append(reasons, "low confidence")
	}
	if reasons == nil {
		reasons = []string{}
	}

	log.Info("pipeline: evaluation complete",
		zap.Float64("score", result.Score),
		zap.Float64("confidence", overall),
		zap.String("tier", result.Tier),
		zap.Int("weight_version", wv.Version),
		zap.Int("tool_calls", len(toolResults)),
		zap.Int("reasons", len(reasons)),
	)

	return &model.EvaluationResponse{
		EntityID:             entityID,
		PerDimensionEstimate: estimates,
		OverallScore:         result.Score,
		Confidence:           overall,
		RecommendationTier:   result.Tier,
		Reasons:              reasons,
		WeightVersion:        wv.Version,
		ToolResults:          toolResults,
		EvaluatedAt:          now,
	}, nil
}

// Estimates returns persisted estimates for an entity, newest first.
func (p *Pipeline) Estimates(ctx context.Context, entityID string, limit int) ([]model.Estimate, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, resilience.NewValidationError("entity_id", "must not be empty")
	}
	out, err := p.store.ListEstimates(ctx, entityID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list estimates for %s", entityID)
	}
	return out, nil
}

func (p *Pipeline) estimate(ctx context.Context, entityID, dim string) (model.Estimate, error) {
	obs, err := p.observations.List(ctx, model.ObservationFilter{EntityID: entityID, Field: dim, Limit: model.NoLimit})
	if err != nil {
		return model.Estimate{}, eris.Wrapf(err, "pipeline: load observations for %s", dim)
	}
	profiles, err := p.reliability.Profiles(ctx, dim)
	if err != nil {
		return model.Estimate{}, err
	}
	est := p.confidence.Estimate(entityID, dim, obs, profiles)
	if err := p.store.SaveEstimate(ctx, &est); err != nil {
		return model.Estimate{}, eris.Wrapf(err, "pipeline: save estimate for %s", dim)
	}
	return est, nil
}

// recordPayload stores each scalar payload entry as an observation from the
// tool. Nested values are skipped.
func (p *Pipeline) recordPayload(ctx context.Context, entityID string, res *model.ToolResult, now time.Time) (int, error) {
	n := 0
	for _, field := range sortedKeys(res.Data) {
		v := res.Data[field]
		if !model.IsScalar(v) {
			continue
		}
		if _, err := p.observations.RecordObservation(ctx, entityID, field, v, res.ToolID, now); err != nil {
			return n, eris.Wrapf(err, "pipeline: record %s from %s", field, res.ToolID)
		}
		n++
	}
	return n, nil
}

// withEntity returns calls whose params carry entity_id. Caller params are
// never mutated.
func withEntity(entityID string, calls []model.ToolCall) []model.ToolCall {
	out := make([]model.ToolCall, len(calls))
	for i, c := range calls {
		if _, ok := c.Params["entity_id"]; !ok {
			params := maps.Clone(c.Params)
			if params == nil {
				params = make(map[string]any, 1)
			}
			params["entity_id"] = entityID
			c.Params = params
		}
		out[i] = c
	}
	return out
}

func failureReason(tr model.ToolCallResult) string {
	if tr.Result == nil {
		return fmt.Sprintf("tool %s failed", tr.Call.ToolID)
	}
	return fmt.Sprintf("tool %s failed (%s): %s", tr.Call.ToolID, tr.Result.ErrorKind, tr.Result.Error)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
