package weights

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/store"
)

func defaultBase() map[string]float64 {
	return map[string]float64{"team": 25, "market": 20, "product": 15, "traction": 20, "financials": 15, "media": 5}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "weights.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewEngine(defaultBase(), DefaultLearningConfig(), st)
}

func TestCompute_NeutralContextKeepsBase(t *testing.T) {
	e := NewEngine(defaultBase(), DefaultLearningConfig(), nil)
	wv, err := e.Compute(Context{DataQuality: 0.5, Competitors: 5})
	require.NoError(t, err)
	assert.Equal(t, defaultBase(), wv.Weights)
	assert.Equal(t, model.WeightOriginContext, wv.Origin)
	assert.InDelta(t, 1.0, wv.Adjustment, 1e-9)
}

func TestCompute_ClampChangesShares(t *testing.T) {
	e := NewEngine(map[string]float64{"a": 30, "b": 10}, DefaultLearningConfig(), nil)
	wv, err := e.Compute(Context{MarketGrowth: 1, DataQuality: 1, Competitors: 0})
	require.NoError(t, err)
	// adjustment 1.35: 30 -> 40.5 clamps to 40, 10 -> 13.5
	assert.InDelta(t, 1.35, wv.Adjustment, 1e-9)
	assert.Equal(t, map[string]float64{"a": 74.8, "b": 25.2}, wv.Weights)
	assert.InDelta(t, Total, wv.Sum(), Tolerance)
}

func TestLearnFromHistory(t *testing.T) {
	e := NewEngine(defaultBase(), DefaultLearningConfig(), nil)

	t.Run("insufficient history returns base", func(t *testing.T) {
		wv, err := e.LearnFromHistory(model.HistoryAggregates{TotalObservations: 100, OutcomeSamples: 50, MeanValue: 1})
		require.NoError(t, err)
		assert.Equal(t, defaultBase(), wv.Weights)
		assert.Equal(t, model.WeightOriginBase, wv.Origin)
	})

	t.Run("growth only", func(t *testing.T) {
		wv, err := e.LearnFromHistory(model.HistoryAggregates{TotalObservations: 150, OutcomeSamples: 20, MeanValue: 3})
		require.NoError(t, err)
		assert.Equal(t, model.WeightOriginHistory, wv.Origin)
		assert.InDelta(t, 23.8, wv.Weights["traction"], 1e-9)
		assert.InDelta(t, 23.8, wv.Weights["team"], 1e-9)
		assert.InDelta(t, 4.8, wv.Weights["media"], 1e-9)
		assert.InDelta(t, Total, wv.Sum(), Tolerance)
	})

	t.Run("weak outcomes also lift team", func(t *testing.T) {
		wv, err := e.LearnFromHistory(model.HistoryAggregates{TotalObservations: 150, OutcomeSamples: 20, MeanValue: 2})
		require.NoError(t, err)
		assert.InDelta(t, 26.2, wv.Weights["team"], 1e-9)
		assert.InDelta(t, 21.7, wv.Weights["traction"], 1e-9)
		assert.InDelta(t, 8.7, wv.Weights["media"], 1e-9)
		assert.InDelta(t, Total, wv.Sum(), Tolerance)
	})

	t.Run("no outcome samples skips team rule", func(t *testing.T) {
		wv, err := e.LearnFromHistory(model.HistoryAggregates{TotalObservations: 150})
		require.NoError(t, err)
		assert.InDelta(t, 23.8, wv.Weights["team"], 1e-9)
	})
}

func TestLearnFromHistory_ConfigurableThresholds(t *testing.T) {
	cfg := DefaultLearningConfig()
	cfg.CountThreshold = 10
	cfg.GrowthDimensions = []string{"market", "missing"}
	cfg.GrowthDelta = 10
	e := NewEngine(defaultBase(), cfg, nil)

	wv, err := e.LearnFromHistory(model.HistoryAggregates{TotalObservations: 11})
	require.NoError(t, err)
	assert.Greater(t, wv.Weights["market"], 20.0)
	assert.NotContains(t, wv.Weights, "missing")
}

func TestCurrent_SeedsBase(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	cur, err := e.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Version)
	assert.Equal(t, defaultBase(), cur.Weights)

	again, err := e.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Version)
}

func TestAdopt_VersionsOnlyOnChange(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	base, err := e.Base()
	require.NoError(t, err)
	cur, changed, err := e.Adopt(ctx, base)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, cur.Version)

	learned, err := e.LearnFromHistory(model.HistoryAggregates{TotalObservations: 500, OutcomeSamples: 5, MeanValue: 1})
	require.NoError(t, err)
	next, changed, err := e.Adopt(ctx, learned)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, model.WeightOriginHistory, next.Origin)

	history, err := e.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
}

func TestAdopt_RejectsBadSum(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Adopt(context.Background(), model.WeightVector{Weights: map[string]float64{"team": 90}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "internal inconsistency")
}
