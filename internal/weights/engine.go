package weights

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/target-signal/internal/model"
)

// LearningConfig holds the history heuristic. None of these values are
// derived from outcome data; they are tuning knobs.
type LearningConfig struct {
	CountThreshold   int
	MeanThreshold    float64
	OutcomeField     string
	GrowthDimensions []string
	GrowthDelta      float64
	TeamDimensions   []string
	TeamDelta        float64
}

// DefaultLearningConfig returns the stock heuristic.
func DefaultLearningConfig() LearningConfig {
	return LearningConfig{
		CountThreshold:   100,
		MeanThreshold:    2.5,
		OutcomeField:     "outcome_score",
		GrowthDimensions: []string{"traction"},
		GrowthDelta:      5,
		TeamDimensions:   []string{"team", "media"},
		TeamDelta:        5,
	}
}

// VectorStore persists weight vector versions.
type VectorStore interface {
	SaveWeightVector(ctx context.Context, wv *model.WeightVector) error
	CurrentWeightVector(ctx context.Context) (*model.WeightVector, error)
	WeightHistory(ctx context.Context, limit int) ([]model.WeightVector, error)
}

// Engine derives weight vectors from the configured base vector. Compute
// and LearnFromHistory are pure; Current and Adopt touch the store.
type Engine struct {
	base     map[string]float64
	learning LearningConfig
	store    VectorStore
	now      func() time.Time
}

// NewEngine creates an Engine. The base map is copied.
func NewEngine(base map[string]float64, learning LearningConfig, st VectorStore) *Engine {
	cp := make(map[string]float64, len(base))
	for d, w := range base {
		cp[d] = w
	}
	return &Engine{base: cp, learning: learning, store: st, now: time.Now}
}

// Learning returns the history heuristic in use.
func (e *Engine) Learning() LearningConfig {
	return e.learning
}

// Base returns the normalized base vector.
func (e *Engine) Base() (model.WeightVector, error) {
	w, err := Normalize(e.base)
	if err != nil {
		return model.WeightVector{}, eris.Wrap(err, "weights: normalize base")
	}
	return e.vector(w, model.WeightOriginBase, 0), nil
}

// Compute applies the contextual adjustment to the base vector, clamps each
// dimension to [5, 40] and normalizes.
func (e *Engine) Compute(c Context) (model.WeightVector, error) {
	adj := Adjustment(ComputeFactors(c))
	adjusted := make(map[string]float64, len(e.base))
	for d, w := range e.base {
		adjusted[d] = w * adj
	}
	w, err := Normalize(ClampAll(adjusted))
	if err != nil {
		return model.WeightVector{}, eris.Wrap(err, "weights: normalize adjusted")
	}
	return e.vector(w, model.WeightOriginContext, adj), nil
}

// LearnFromHistory shifts weight toward growth dimensions once enough
// history exists, and toward team dimensions when the historical mean
// outcome is weak. Insufficient history returns the normalized base.
func (e *Engine) LearnFromHistory(agg model.HistoryAggregates) (model.WeightVector, error) {
	base, err := e.Base()
	if err != nil {
		return model.WeightVector{}, err
	}
	if agg.TotalObservations <= e.learning.CountThreshold {
		return base, nil
	}

	adjusted := base.Clone().Weights
	bump(adjusted, e.learning.GrowthDimensions, e.learning.GrowthDelta)
	if agg.OutcomeSamples > 0 && agg.MeanValue < e.learning.MeanThreshold {
		bump(adjusted, e.learning.TeamDimensions, e.learning.TeamDelta)
	}

	w, err := Normalize(ClampAll(adjusted))
	if err != nil {
		return model.WeightVector{}, eris.Wrap(err, "weights: normalize learned")
	}
	return e.vector(w, model.WeightOriginHistory, 0), nil
}

// Current returns the latest stored vector, seeding the store with the
// normalized base when it is empty.
func (e *Engine) Current(ctx context.Context) (*model.WeightVector, error) {
	cur, err := e.store.CurrentWeightVector(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "weights: load current")
	}
	if cur != nil {
		if err := ValidateSum(cur.Weights); err != nil {
			return nil, eris.Wrapf(err, "weights: stored version %d", cur.Version)
		}
		return cur, nil
	}

	base, err := e.Base()
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveWeightVector(ctx, &base); err != nil {
		return nil, eris.Wrap(err, "weights: seed base")
	}
	return &base, nil
}

// Adopt saves wv as a new version unless it matches the current vector.
// It reports whether a new version was written.
func (e *Engine) Adopt(ctx context.Context, wv model.WeightVector) (*model.WeightVector, bool, error) {
	if err := ValidateSum(wv.Weights); err != nil {
		return nil, false, err
	}
	cur, err := e.Current(ctx)
	if err != nil {
		return nil, false, err
	}
	if cur.Equal(wv) {
		return cur, false, nil
	}

	next := wv.Clone()
	next.Version = 0
	next.CreatedAt = e.now().UTC()
	if err := e.store.SaveWeightVector(ctx, &next); err != nil {
		return nil, false, eris.Wrap(err, "weights: save version")
	}
	zap.L().Info("weights: new version",
		zap.Int("version", next.Version),
		zap.Int("previous", cur.Version),
		zap.String("origin", next.Origin),
	)
	return &next, true, nil
}

// History returns stored versions, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]model.WeightVector, error) {
	h, err := e.store.WeightHistory(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "weights: history")
	}
	return h, nil
}

func (e *Engine) vector(w map[string]float64, origin string, adj float64) model.WeightVector {
	return model.WeightVector{Weights: w, Origin: origin, Adjustment: adj, CreatedAt: e.now().UTC()}
}

func bump(w map[string]float64, dims []string, delta float64) {
	for _, d := range dims {
		if _, ok := w[d]; ok {
			w[d] += delta
		}
	}
}
