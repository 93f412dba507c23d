package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/target-signal/internal/model"
)

// Store defines the persistence interface for observations, derived
// reliability and estimates, weight vector history, and the tool cache.
type Store interface {
	// Observations (append-only)
	AppendObservation(ctx context.Context, obs *model.Observation) error
	AppendObservations(ctx context.Context, obs []*model.Observation) (int64, error)
	ListObservations(ctx context.Context, filter model.ObservationFilter) ([]model.Observation, error)
	HistoryAggregates(ctx context.Context, outcomeField string) (*model.HistoryAggregates, error)

	// Source profiles, replaced wholesale per field
	ReplaceSourceProfiles(ctx context.Context, field string, profiles []model.SourceProfile) error
	ListSourceProfiles(ctx context.Context, field string) ([]model.SourceProfile, error)

	// Estimates (append-only audit)
	SaveEstimate(ctx context.Context, est *model.Estimate) error
	ListEstimates(ctx context.Context, entityID string, limit int) ([]model.Estimate, error)

	// Weight vectors. SaveWeightVector assigns the next version.
	SaveWeightVector(ctx context.Context, wv *model.WeightVector) error
	CurrentWeightVector(ctx context.Context) (*model.WeightVector, error)
	WeightHistory(ctx context.Context, limit int) ([]model.WeightVector, error)

	// Tool cache. GetCacheEntry returns nil, nil on a miss.
	GetCacheEntry(ctx context.Context, key string) (*model.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *model.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, key string) error
	DeleteExpiredCache(ctx context.Context, now time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 1000

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// stampObservation fills the generated ID and recorded time when unset.
func stampObservation(obs *model.Observation) {
	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.RecordedAt.IsZero() {
		obs.RecordedAt = time.Now().UTC()
	}
}

func encodeValue(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal value")
	}
	return b, nil
}

func decodeValue(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal value")
	}
	return v, nil
}
