// Package observation holds the append-only observation log and the source
// reliability estimator derived from it.
package observation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/resilience"
)

// Store is the persistence surface the observation package needs.
type Store interface {
	AppendObservation(ctx context.Context, obs *model.Observation) error
	AppendObservations(ctx context.Context, obs []*model.Observation) (int64, error)
	ListObservations(ctx context.Context, filter model.ObservationFilter) ([]model.Observation, error)
	ReplaceSourceProfiles(ctx context.Context, field string, profiles []model.SourceProfile) error
	ListSourceProfiles(ctx context.Context, field string) ([]model.SourceProfile, error)
}

// Log records observations. It never deduplicates or updates in place.
type Log struct {
	store Store
	now   func() time.Time
}

// NewLog creates a Log backed by st.
func NewLog(st Store) *Log {
	return &Log{store: st, now: time.Now}
}

// Input is one observation submitted for import.
type Input struct {
	EntityID   string    `json:"entity_id" yaml:"entity_id"`
	Field      string    `json:"field" yaml:"field"`
	Value      any       `json:"value" yaml:"value"`
	SourceName string    `json:"source_name" yaml:"source_name"`
	ObservedAt time.Time `json:"observed_at,omitempty" yaml:"observed_at,omitempty"`
}

// RecordObservation validates and appends one observation. A zero
// observedAt is stamped with the current time.
func (l *Log) RecordObservation(ctx context.Context, entityID, field string, value any, sourceName string, observedAt time.Time) (*model.Observation, error) {
	obs, err := l.build(Input{EntityID: entityID, Field: field, Value: value, SourceName: sourceName, ObservedAt: observedAt}, "", l.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := l.store.AppendObservation(ctx, obs); err != nil {
		return nil, eris.Wrapf(err, "observation: record %s/%s", obs.EntityID, obs.Field)
	}
	return obs, nil
}

// Import validates every input and appends the batch in order. Nothing is
// written when any input is invalid.
func (l *Log) Import(ctx context.Context, inputs []Input) ([]*model.Observation, error) {
	if len(inputs) == 0 {
		return nil, resilience.NewValidationError("observations", "must not be empty")
	}
	now := l.now().UTC()
	batch := make([]*model.Observation, 0, len(inputs))
	for i, in := range inputs {
		obs, err := l.build(in, fmt.Sprintf("observations[%d].", i), now)
		if err != nil {
			return nil, err
		}
		batch = append(batch, obs)
	}
	n, err := l.store.AppendObservations(ctx, batch)
	if err != nil {
		return nil, eris.Wrapf(err, "observation: import %d observations", len(batch))
	}
	if n != int64(len(batch)) {
		return nil, eris.Errorf("observation: import wrote %d of %d observations", n, len(batch))
	}
	return batch, nil
}

func (l *Log) build(in Input, prefix string, now time.Time) (*model.Observation, error) {
	entityID := strings.TrimSpace(in.EntityID)
	field := strings.TrimSpace(in.Field)
	sourceName := strings.TrimSpace(in.SourceName)

	switch {
	case entityID == "":
		return nil, resilience.NewValidationError(prefix+"entity_id", "must not be empty")
	case field == "":
		return nil, resilience.NewValidationError(prefix+"field", "must not be empty")
	case sourceName == "":
		return nil, resilience.NewValidationError(prefix+"source_name", "must not be empty")
	case !model.IsScalar(in.Value):
		return nil, resilience.NewValidationError(prefix+"value", "must be a finite number, string, or bool")
	}

	observedAt := in.ObservedAt
	if observedAt.IsZero() {
		observedAt = now
	}
	return &model.Observation{
		EntityID:   entityID,
		Field:      field,
		Value:      in.Value,
		SourceName: sourceName,
		ObservedAt: observedAt.UTC(),
		RecordedAt: now,
	}, nil
}

// List returns observations matching filter in insertion order.
func (l *Log) List(ctx context.Context, filter model.ObservationFilter) ([]model.Observation, error) {
	obs, err := l.store.ListObservations(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "observation: list")
	}
	return obs, nil
}
