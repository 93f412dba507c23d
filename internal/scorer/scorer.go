package scorer

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/weights"
)

// Result holds the overall score and its per-dimension contributions.
type Result struct {
	Score           float64            `json:"score"`
	ComponentScores map[string]float64 `json:"component_scores"`
	Tier            string             `json:"tier"`
}

// Score computes Σ estimates[d]·weights[d]/100 over the vector's
// dimensions. Dimensions without an estimate contribute zero. A vector that
// does not sum to 100 is an InconsistencyError and nothing is scored.
func Score(estimates map[string]float64, wv model.WeightVector) (float64, error) {
	components, err := Components(estimates, wv)
	if err != nil {
		return 0, err
	}
	return total(components, wv), nil
}

// Components returns each dimension's weighted contribution.
func Components(estimates map[string]float64, wv model.WeightVector) (map[string]float64, error) {
	if err := weights.ValidateSum(wv.Weights); err != nil {
		return nil, eris.Wrapf(err, "scorer: weight version %d", wv.Version)
	}
	out := make(map[string]float64, len(wv.Weights))
	for d, w := range wv.Weights {
		out[d] = estimates[d] * w / weights.Total
	}
	return out, nil
}

// WeightedConfidence averages per-dimension confidence by weight. Missing
// dimensions count as zero confidence.
func WeightedConfidence(confidence map[string]float64, wv model.WeightVector) float64 {
	var sum float64
	for _, d := range wv.Dimensions() {
		sum += confidence[d] * wv.Weights[d] / weights.Total
	}
	return min(max(sum, 0), 1)
}

// Evaluate scores estimates and picks the tier from table.
func Evaluate(estimates map[string]float64, wv model.WeightVector, table *Table) (*Result, error) {
	components, err := Components(estimates, wv)
	if err != nil {
		return nil, err
	}
	score := total(components, wv)
	return &Result{
		Score:           score,
		ComponentScores: components,
		Tier:            table.Tier(score),
	}, nil
}

// total sums in sorted dimension order so repeated runs agree bit for bit.
func total(components map[string]float64, wv model.WeightVector) float64 {
	var sum float64
	for _, d := range wv.Dimensions() {
		sum += components[d]
	}
	return sum
}
