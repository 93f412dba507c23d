// Package confidence reconciles observations of one field into a point
// estimate with a confidence score and interval.
package confidence

import (
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/target-signal/internal/model"
)

const (
	// FloorConfidence is returned when there is nothing to reconcile.
	FloorConfidence = 0.1

	// DefaultSpreadRatio scales the interval width by (1 - confidence).
	DefaultSpreadRatio = 0.35

	// MinSpread is the smallest relative half-width an interval may have.
	MinSpread = 0.1

	// insufficientPrior is the consistency assumed with fewer than two
	// numeric points or a zero mean.
	insufficientPrior = 0.5
)

// Options configures an Engine.
type Options struct {
	SpreadRatio float64
	Decay       DecayConfig
}

// Engine computes estimates. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	sources     *SourceTable
	spreadRatio float64
	decay       DecayConfig
	now         func() time.Time
}

// NewEngine creates an Engine. A nil table uses DefaultSourceTable.
func NewEngine(sources *SourceTable, opts Options) *Engine {
	if sources == nil {
		sources = DefaultSourceTable()
	}
	if opts.SpreadRatio <= 0 {
		opts.SpreadRatio = DefaultSpreadRatio
	}
	return &Engine{
		sources:     sources,
		spreadRatio: opts.SpreadRatio,
		decay:       opts.Decay,
		now:         time.Now,
	}
}

// Sources returns the engine's source table.
func (e *Engine) Sources() *SourceTable {
	return e.sources
}

// ComputeUncertainty scores a set of observations of one field using the
// base weight of each observation's source type.
func (e *Engine) ComputeUncertainty(obs []model.Observation) model.Uncertainty {
	baseWeights := make([]float64, 0, len(obs))
	var numeric []float64
	for _, o := range obs {
		baseWeights = append(baseWeights, e.sources.BaseWeight(o.SourceName))
		if v, ok := o.Numeric(); ok {
			numeric = append(numeric, v)
		}
	}
	return ComputeUncertainty(baseWeights, numeric)
}

// ComputeUncertainty derives confidence from the base weights of the
// contributing observations and their numeric values. Empty input returns
// the confidence floor.
func ComputeUncertainty(baseWeights, numeric []float64) model.Uncertainty {
	if len(baseWeights) == 0 {
		return model.Uncertainty{Confidence: FloorConfidence}
	}

	quality, err := stats.Mean(baseWeights)
	if err != nil {
		quality = 0
	}
	consistency := Consistency(numeric)

	return model.Uncertainty{
		Confidence:       clamp(0.5*quality+0.5*consistency, 0, 1),
		ConsistencyScore: consistency,
		SourceQuality:    quality,
	}
}

// Consistency returns 1 - stddev/|mean| over numeric values, floored at 0.
// Fewer than two values or a zero mean yield the 0.5 prior.
func Consistency(values []float64) float64 {
	if len(values) < 2 {
		return insufficientPrior
	}
	mean, err := stats.Mean(values)
	if err != nil || mean == 0 {
		return insufficientPrior
	}
	variance, err := stats.PopulationVariance(values)
	if err != nil {
		return insufficientPrior
	}
	// |mean| keeps the ratio meaningful for series with a negative mean.
	return clamp(1-math.Sqrt(variance)/math.Abs(mean), 0, 1)
}

// BuildConfidenceInterval returns bounds around estimate whose relative
// half-width is max(0.1, spreadRatio*(1-confidence)). Bounds are ordered so
// negative estimates still satisfy low <= estimate <= high.
func BuildConfidenceInterval(estimate, confidence, spreadRatio float64) (low, high float64) {
	spread := math.Max(MinSpread, spreadRatio*(1-clamp(confidence, 0, 1)))
	a := estimate * (1 - spread)
	b := estimate * (1 + spread)
	return math.Min(a, b), math.Max(a, b)
}

// Estimate reconciles the observations of one (entity, field). Profiles
// scale each source's contribution by its suggested weight; observations of
// other fields or entities must be filtered out by the caller.
func (e *Engine) Estimate(entityID, field string, obs []model.Observation, profiles []model.SourceProfile) model.Estimate {
	unc := e.ComputeUncertainty(obs)
	est := model.Estimate{
		EntityID:         entityID,
		Field:            field,
		Confidence:       unc.Confidence,
		ConsistencyScore: unc.ConsistencyScore,
		SourceQuality:    unc.SourceQuality,
		ObservationCount: len(obs),
		CreatedAt:        e.now().UTC(),
	}
	if len(obs) == 0 {
		return est
	}

	suggested := make(map[string]float64, len(profiles))
	for _, p := range profiles {
		suggested[p.SourceName] = p.SuggestedWeight
	}

	now := e.now()
	var values, weights []float64
	categorical := make(map[string]float64)
	labels := make(map[string]any)
	for _, o := range obs {
		w := e.sources.BaseWeight(o.SourceName) * DecayFactor(o.ObservedAt, now, e.decay)
		if s, ok := suggested[o.SourceName]; ok {
			w *= s
		}
		if v, ok := o.Numeric(); ok {
			values = append(values, v)
			weights = append(weights, w)
			continue
		}
		key := fmt.Sprintf("%v", o.Value)
		categorical[key] += w
		labels[key] = o.Value
	}

	if len(values) > 0 {
		if floats.Sum(weights) <= 0 {
			weights = nil
		}
		est.PointEstimate = stat.Mean(values, weights)
		est.Low, est.High = BuildConfidenceInterval(est.PointEstimate, est.Confidence, e.spreadRatio)
		return est
	}

	var best string
	found := false
	for key, w := range categorical {
		if !found || w > categorical[best] || (w == categorical[best] && key < best) {
			best, found = key, true
		}
	}
	est.Value = labels[best]
	return est
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
