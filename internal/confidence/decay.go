package confidence

import (
	"math"
	"time"
)

// DecayConfig controls time decay of observation weight.
type DecayConfig struct {
	HalfLifeDays float64 `yaml:"half_life_days" mapstructure:"half_life_days"`
	Floor        float64 `yaml:"floor" mapstructure:"floor"`
}

// Enabled reports whether decay applies.
func (d DecayConfig) Enabled() bool {
	return d.HalfLifeDays > 0
}

// DecayFactor returns the multiplier for an observation of the given age.
// Formula: max(floor, 2^(-ageDays / halfLifeDays)). Disabled decay, a zero
// timestamp, or a future timestamp yield 1.
func DecayFactor(observedAt, now time.Time, decay DecayConfig) float64 {
	if !decay.Enabled() || observedAt.IsZero() {
		return 1
	}

	ageDays := now.Sub(observedAt).Hours() / 24
	if ageDays <= 0 {
		return 1
	}

	decayed := math.Pow(2, -ageDays/decay.HalfLifeDays)
	if decayed < decay.Floor {
		return decay.Floor
	}
	return decayed
}
