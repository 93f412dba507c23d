package observation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/resilience"
	"github.com/sells-group/target-signal/internal/store"
)

func obsOf(entity, source string, v any) model.Observation {
	return model.Observation{EntityID: entity, Field: "revenue", SourceName: source, Value: v}
}

func TestDisagree(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"equal numbers", 100, 100.0, false},
		{"within tolerance", 100, 109, false},
		{"beyond tolerance", 100, 120, true},
		{"both zero", 0, 0.0, false},
		{"zero vs nonzero", 0, 5, true},
		{"negative within tolerance", -100, -95, false},
		{"strings equal", "fintech", "fintech", false},
		{"strings differ", "fintech", "Fintech", true},
		{"nfc vs nfd", "caf\u00e9", "cafe\u0301", false},
		{"bools", true, false, true},
		{"mixed numeric string", 20000, "20000", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Disagree(tt.a, tt.b, DefaultNumericTolerance))
		})
	}
}

func TestComputeProfiles_ConflictRates(t *testing.T) {
	now := time.Now().UTC()
	obs := []model.Observation{
		// acme: pitchbook and crunchbase agree, web is far off.
		obsOf("acme", "pitchbook", 20000),
		obsOf("acme", "crunchbase", 20500),
		obsOf("acme", "web", 50000),
		// globex: only pitchbook and web, they agree.
		obsOf("globex", "pitchbook", 1000),
		obsOf("globex", "web", 1050),
		// initech: single source, never a conflict.
		obsOf("initech", "pitchbook", 7),
	}

	profiles := ComputeProfiles("revenue", obs, DefaultNumericTolerance, staticTypes{"pitchbook": "financial_database"}, now)
	require.Len(t, profiles, 3)

	byName := map[string]model.SourceProfile{}
	for _, p := range profiles {
		byName[p.SourceName] = p
	}

	// Every source disagrees with web on acme.
	assert.Equal(t, 3, byName["pitchbook"].Observations)
	assert.Equal(t, 1, byName["pitchbook"].Conflicts)
	assert.InDelta(t, 1.0/3, byName["pitchbook"].ConflictRate, 1e-9)
	assert.Equal(t, "financial_database", byName["pitchbook"].SourceType)

	assert.Equal(t, 1, byName["crunchbase"].Conflicts)
	assert.InDelta(t, 1.0, byName["crunchbase"].ConflictRate, 1e-9)
	assert.InDelta(t, MinSuggestedWeight, byName["crunchbase"].SuggestedWeight, 1e-9)

	assert.InDelta(t, 0.5, byName["web"].ConflictRate, 1e-9)
	assert.Equal(t, "estimation", byName["web"].SourceType)

	for _, p := range profiles {
		assert.GreaterOrEqual(t, p.SuggestedWeight, MinSuggestedWeight)
		assert.LessOrEqual(t, p.SuggestedWeight, MaxSuggestedWeight)
		assert.Equal(t, now, p.LastUpdated)
	}

	// Sorted by suggested weight descending.
	assert.Equal(t, []string{"pitchbook", "web", "crunchbase"}, []string{profiles[0].SourceName, profiles[1].SourceName, profiles[2].SourceName})
}

func TestComputeProfiles_TieBreakByCount(t *testing.T) {
	obs := []model.Observation{
		obsOf("a", "sec", 1),
		obsOf("b", "sec", 2),
		obsOf("c", "sec", 3),
		obsOf("a", "news", 1),
		obsOf("z", "blog", 9),
	}
	profiles := ComputeProfiles("revenue", obs, DefaultNumericTolerance, nil, time.Now())
	require.Len(t, profiles, 3)
	assert.Equal(t, "sec", profiles[0].SourceName)
	// Equal weight and count fall back to name.
	assert.Equal(t, "blog", profiles[1].SourceName)
	assert.Equal(t, "news", profiles[2].SourceName)
}

func TestComputeProfiles_SameSourceNeverConflicts(t *testing.T) {
	obs := []model.Observation{
		obsOf("acme", "web", 1),
		obsOf("acme", "web", 1000),
	}
	profiles := ComputeProfiles("revenue", obs, DefaultNumericTolerance, nil, time.Now())
	require.Len(t, profiles, 1)
	assert.Zero(t, profiles[0].Conflicts)
	assert.InDelta(t, 1.0, profiles[0].SuggestedWeight, 1e-9)
}

func TestComputeProfiles_Empty(t *testing.T) {
	assert.Empty(t, ComputeProfiles("revenue", nil, DefaultNumericTolerance, nil, time.Now()))
}

func TestEvaluateSourceReliability_EmptyField(t *testing.T) {
	st := &mockStore{}
	_, err := NewEstimator(st, nil, -1).EvaluateSourceReliability(context.Background(), "")
	require.Error(t, err)
	assert.True(t, resilience.IsValidation(err))
	st.AssertNotCalled(t, "ListObservations", mock.Anything, mock.Anything)
}

func TestEvaluateSourceReliability_PersistsSnapshot(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "rel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	log := NewLog(st)
	for _, o := range []struct {
		entity, source string
		value          any
	}{
		{"acme", "sec", 100},
		{"acme", "blog", 300},
		{"globex", "sec", 50},
		{"globex", "blog", 52},
	} {
		_, err := log.RecordObservation(ctx, o.entity, "revenue", o.value, o.source, time.Time{})
		require.NoError(t, err)
	}

	est := NewEstimator(st, staticTypes{"sec": "regulatory_filing"}, DefaultNumericTolerance)
	profiles, err := est.EvaluateSourceReliability(ctx, "revenue")
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.InDelta(t, 0.5, profiles[0].ConflictRate, 1e-9)

	stored, err := est.Profiles(ctx, "revenue")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "blog", stored[0].SourceName)
	assert.Equal(t, "regulatory_filing", stored[1].SourceType)
}

func TestEvaluateSourceReliability_ReadsWholeField(t *testing.T) {
	st := &mockStore{}
	est := NewEstimator(st, staticTypes{}, DefaultNumericTolerance)

	st.On("ListObservations", mock.Anything, model.ObservationFilter{Field: "revenue", Limit: model.NoLimit}).
		Return([]model.Observation{obsOf("acme", "web", 1.0)}, nil).Once()
	st.On("ReplaceSourceProfiles", mock.Anything, "revenue", mock.Anything).Return(nil).Once()

	profiles, err := est.EvaluateSourceReliability(context.Background(), "revenue")
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
	st.AssertExpectations(t)
}
