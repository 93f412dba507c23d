package model

import "time"

// EvaluationRequest asks for a scored estimate of one entity.
type EvaluationRequest struct {
	EntityID        string             `json:"entity_id"`
	DimensionInputs map[string]float64 `json:"dimension_inputs,omitempty"`
	DataSources     []ToolCall         `json:"data_sources,omitempty"`
}

// EvaluationResponse is the scored outcome for one entity.
type EvaluationResponse struct {
	EntityID             string              `json:"entity_id"`
	PerDimensionEstimate map[string]Estimate `json:"per_dimension_estimates"`
	OverallScore         float64             `json:"overall_score"`
	Confidence           float64             `json:"confidence"`
	RecommendationTier   string              `json:"recommendation_tier"`
	Reasons              []string            `json:"reasons"`
	WeightVersion        int                 `json:"weight_version"`
	ToolResults          []ToolCallResult    `json:"tool_results,omitempty"`
	EvaluatedAt          time.Time           `json:"evaluated_at"`
}
