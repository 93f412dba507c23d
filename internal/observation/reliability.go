package observation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/resilience"
)

// Suggested weight bounds for a source profile.
const (
	MinSuggestedWeight = 0.3
	MaxSuggestedWeight = 1.0
)

// DefaultNumericTolerance is the relative difference above which two numeric
// values are considered in conflict.
const DefaultNumericTolerance = 0.1

// TypeResolver maps a source name to its source type.
type TypeResolver interface {
	TypeOf(sourceName string) string
}

// Estimator derives per-source reliability profiles from the observation log.
type Estimator struct {
	store     Store
	types     TypeResolver
	tolerance float64
	now       func() time.Time
}

// NewEstimator creates an Estimator. A negative tolerance falls back to
// DefaultNumericTolerance.
func NewEstimator(st Store, types TypeResolver, tolerance float64) *Estimator {
	if tolerance < 0 {
		tolerance = DefaultNumericTolerance
	}
	return &Estimator{
		store:     st,
		types:     types,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// EvaluateSourceReliability recomputes and persists the source profiles for
// field, replacing the previous snapshot.
func (e *Estimator) EvaluateSourceReliability(ctx context.Context, field string) ([]model.SourceProfile, error) {
	if field == "" {
		return nil, resilience.NewValidationError("field", "must not be empty")
	}
	obs, err := e.store.ListObservations(ctx, model.ObservationFilter{Field: field, Limit: model.NoLimit})
	if err != nil {
		return nil, eris.Wrapf(err, "reliability: load observations for %s", field)
	}

	profiles := ComputeProfiles(field, obs, e.tolerance, e.types, e.now().UTC())
	if err := e.store.ReplaceSourceProfiles(ctx, field, profiles); err != nil {
		return nil, eris.Wrapf(err, "reliability: save profiles for %s", field)
	}

	zap.L().Info("reliability: profiles refreshed",
		zap.String("field", field),
		zap.Int("observations", len(obs)),
		zap.Int("sources", len(profiles)),
	)
	return profiles, nil
}

// Profiles returns the last persisted profiles for field.
func (e *Estimator) Profiles(ctx context.Context, field string) ([]model.SourceProfile, error) {
	profiles, err := e.store.ListSourceProfiles(ctx, field)
	if err != nil {
		return nil, eris.Wrapf(err, "reliability: list profiles for %s", field)
	}
	return profiles, nil
}

// ComputeProfiles groups observations by entity and counts, per source, the
// observations that disagree with at least one other source on the same
// entity. The result is sorted by suggested weight descending, then
// observation count descending, then source name.
func ComputeProfiles(field string, obs []model.Observation, tolerance float64, types TypeResolver, now time.Time) []model.SourceProfile {
	byEntity := make(map[string][]model.Observation)
	for _, o := range obs {
		byEntity[o.EntityID] = append(byEntity[o.EntityID], o)
	}

	type tally struct{ total, conflicts int }
	tallies := make(map[string]*tally)
	for _, group := range byEntity {
		for i, o := range group {
			t := tallies[o.SourceName]
			if t == nil {
				t = &tally{}
				tallies[o.SourceName] = t
			}
			t.total++
			for j, other := range group {
				if i == j || other.SourceName == o.SourceName {
					continue
				}
				if Disagree(o.Value, other.Value, tolerance) {
					t.conflicts++
					break
				}
			}
		}
	}

	profiles := make([]model.SourceProfile, 0, len(tallies))
	for source, t := range tallies {
		rate := float64(t.conflicts) / float64(t.total)
		p := model.SourceProfile{
			Field:           field,
			SourceName:      source,
			Observations:    t.total,
			Conflicts:       t.conflicts,
			ConflictRate:    rate,
			SuggestedWeight: clamp(1-rate, MinSuggestedWeight, MaxSuggestedWeight),
			LastUpdated:     now,
		}
		if types != nil {
			p.SourceType = types.TypeOf(source)
		}
		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool {
		a, b := profiles[i], profiles[j]
		if a.SuggestedWeight != b.SuggestedWeight {
			return a.SuggestedWeight > b.SuggestedWeight
		}
		if a.Observations != b.Observations {
			return a.Observations > b.Observations
		}
		return a.SourceName < b.SourceName
	})
	return profiles
}

// Disagree reports whether two observed values conflict. Numeric pairs
// conflict beyond the relative tolerance; anything else must match exactly
// after Unicode normalization.
func Disagree(a, b any, tolerance float64) bool {
	fa, okA := model.NumericValue(a)
	fb, okB := model.NumericValue(b)
	if okA && okB {
		if fa == fb {
			return false
		}
		denom := math.Max(math.Abs(fa), math.Abs(fb))
		return math.Abs(fa-fb)/denom > tolerance
	}
	return canonical(a) != canonical(b)
}

func canonical(v any) string {
	return norm.NFC.String(fmt.Sprintf("%v", v))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
