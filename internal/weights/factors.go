// Package weights computes and versions the scoring weight vector.
package weights

import "math"

// Context carries the inputs for the contextual factors.
type Context struct {
	MarketGrowth float64 `json:"market_growth"` // fractional, e.g. 0.2 for 20%
	DataQuality  float64 `json:"data_quality"`  // 0..1
	DataAgeDays  float64 `json:"data_age_days"`
	Competitors  int     `json:"competitors"`
}

// Factors are the four contextual multipliers, each in [0.5, 1.5].
type Factors struct {
	Market      float64 `json:"market"`
	DataQuality float64 `json:"data_quality"`
	Recency     float64 `json:"recency"`
	Competition float64 `json:"competition"`
}

// ComputeFactors maps a context onto its factors.
func ComputeFactors(c Context) Factors {
	return Factors{
		Market:      clamp(1+c.MarketGrowth, 0.5, 1.5),
		DataQuality: clamp(0.5+c.DataQuality, 0.5, 1.5),
		Recency:     RecencyFactor(c.DataAgeDays),
		Competition: clamp(1.5-0.1*float64(c.Competitors), 0.5, 1.5),
	}
}

// Adjustment blends the factors with a fixed 0.1 base-confidence term.
func Adjustment(f Factors) float64 {
	return 0.3*f.Market + 0.25*f.DataQuality + 0.2*f.Recency + 0.15*f.Competition + 0.1
}

// RecencyFactor is max(0.5, 1 - daysOld/365).
func RecencyFactor(daysOld float64) float64 {
	return math.Max(0.5, 1-daysOld/365)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
