package model

import (
	"sort"
	"time"
)

// WeightVector maps scoring dimensions to weights that sum to 100.
// Vectors are versioned and never mutated after they are saved.
type WeightVector struct {
	Version    int                `json:"version"`
	Weights    map[string]float64 `json:"weights"`
	Origin     string             `json:"origin"` // base, context, history
	Adjustment float64            `json:"adjustment,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Weight origins.
const (
	WeightOriginBase    = "base"
	WeightOriginContext = "context"
	WeightOriginHistory = "history"
)

// Sum returns the total of all weights.
func (w WeightVector) Sum() float64 {
	var sum float64
	for _, v := range w.Weights {
		sum += v
	}
	return sum
}

// Dimensions returns the dimension names in sorted order.
func (w WeightVector) Dimensions() []string {
	dims := make([]string, 0, len(w.Weights))
	for d := range w.Weights {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	return dims
}

// Equal reports whether two vectors carry the same weights.
func (w WeightVector) Equal(other WeightVector) bool {
	if len(w.Weights) != len(other.Weights) {
		return false
	}
	for d, v := range w.Weights {
		ov, ok := other.Weights[d]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers can derive a new version.
func (w WeightVector) Clone() WeightVector {
	out := w
	out.Weights = make(map[string]float64, len(w.Weights))
	for d, v := range w.Weights {
		out.Weights[d] = v
	}
	return out
}
