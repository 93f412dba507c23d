package model

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Observation is a single datum reported by a source about one field of an
// entity. Observations are append-only and never mutated.
type Observation struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	Field      string    `json:"field"`
	Value      any       `json:"value"`
	SourceName string    `json:"source_name"`
	ObservedAt time.Time `json:"observed_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Numeric returns the observation value as a float64 when it is numeric.
func (o Observation) Numeric() (float64, bool) {
	return NumericValue(o.Value)
}

// NumericValue reports whether v is a finite number and returns it as a
// float64. Strings are never treated as numbers.
func NumericValue(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// IsScalar reports whether v can be recorded as an observation value.
func IsScalar(v any) bool {
	switch v.(type) {
	case nil:
		return false
	case string, bool, json.Number:
		return true
	}
	_, ok := NumericValue(v)
	return ok
}

// NoLimit as ObservationFilter.Limit returns every matching observation.
const NoLimit = -1

// ObservationFilter narrows a ListObservations query. Empty fields match all.
// A zero Limit uses the store default; NoLimit (any negative value) returns
// every match. Results are in insertion order, or newest first when
// NewestFirst is set.
type ObservationFilter struct {
	EntityID    string    `json:"entity_id,omitempty"`
	Field       string    `json:"field,omitempty"`
	SourceName  string    `json:"source_name,omitempty"`
	Since       time.Time `json:"since,omitempty"`
	Limit       int       `json:"limit,omitempty"`
	NewestFirst bool      `json:"newest_first,omitempty"`
}

// HistoryAggregates summarizes the observation log for weight learning.
type HistoryAggregates struct {
	TotalObservations int     `json:"total_observations"`
	OutcomeField      string  `json:"outcome_field"`
	OutcomeSamples    int     `json:"outcome_samples"`
	MeanValue         float64 `json:"mean_value"`
}

// SourceProfile is the reliability metadata derived for one source on one
// field. Profiles are recomputed in batch and replaced wholesale.
type SourceProfile struct {
	Field           string    `json:"field"`
	SourceName      string    `json:"source_name"`
	SourceType      string    `json:"source_type"`
	Observations    int       `json:"observations"`
	Conflicts       int       `json:"conflicts"`
	ConflictRate    float64   `json:"conflict_rate"`
	SuggestedWeight float64   `json:"suggested_weight"`
	LastUpdated     time.Time `json:"last_updated"`
}
