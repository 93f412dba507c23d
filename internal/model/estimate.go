package model

import "time"

// Uncertainty is the output of reconciling a set of observations.
type Uncertainty struct {
	Confidence       float64 `json:"confidence"`
	ConsistencyScore float64 `json:"consistency_score"`
	SourceQuality    float64 `json:"source_quality"`
}

// Estimate is a reconciled value for one (entity, field) with its
// confidence interval. Re-evaluation produces a new Estimate.
type Estimate struct {
	ID               string    `json:"id"`
	EntityID         string    `json:"entity_id"`
	Field            string    `json:"field"`
	PointEstimate    float64   `json:"point_estimate"`
	Low              float64   `json:"low"`
	High             float64   `json:"high"`
	Value            any       `json:"value,omitempty"` // categorical winner
	Confidence       float64   `json:"confidence"`
	ConsistencyScore float64   `json:"consistency_score"`
	SourceQuality    float64   `json:"source_quality"`
	ObservationCount int       `json:"observation_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// Spread returns the relative half-width of the interval.
func (e Estimate) Spread() float64 {
	if e.PointEstimate == 0 {
		return 0
	}
	half := (e.High - e.Low) / 2
	if e.PointEstimate < 0 {
		return half / -e.PointEstimate
	}
	return half / e.PointEstimate
}
