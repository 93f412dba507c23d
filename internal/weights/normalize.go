package weights

import (
	"math"
	"sort"

	"github.com/sells-group/target-signal/internal/resilience"
)

const (
	// Total is the sum every normalized vector must reach.
	Total = 100.0

	// Tolerance is the allowed deviation from Total.
	Tolerance = 0.1

	// Per-dimension bounds applied before normalization.
	MinWeight = 5.0
	MaxWeight = 40.0
)

// Normalize rescales weights to sum to 100, rounds each to one decimal and
// gives the rounding remainder to the largest dimension (ties go to the
// lexicographically first name). The input is not modified.
func Normalize(weights map[string]float64) (map[string]float64, error) {
	if len(weights) == 0 {
		return nil, resilience.NewInconsistencyError("weight vector is empty")
	}

	dims := make([]string, 0, len(weights))
	var total float64
	for d, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, resilience.NewInconsistencyError("weight %q is invalid: %v", d, w)
		}
		dims = append(dims, d)
		total += w
	}
	if total <= 0 {
		return nil, resilience.NewInconsistencyError("weight vector sums to %v", total)
	}
	sort.Strings(dims)

	out := make(map[string]float64, len(weights))
	largest := dims[0]
	var rounded float64
	for _, d := range dims {
		scaled := weights[d] / total * Total
		out[d] = round1(scaled)
		rounded += out[d]
		if weights[d] > weights[largest] {
			largest = d
		}
	}
	out[largest] = round1(out[largest] + (Total - rounded))

	if err := ValidateSum(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateSum fails with an InconsistencyError unless weights sum to
// 100 +- 0.1.
func ValidateSum(weights map[string]float64) error {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-Total) > Tolerance {
		return resilience.NewInconsistencyError("weights sum to %.4f, want %.1f", sum, Total)
	}
	return nil
}

// ClampAll bounds every weight to [MinWeight, MaxWeight].
func ClampAll(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for d, w := range weights {
		out[d] = clamp(w, MinWeight, MaxWeight)
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
