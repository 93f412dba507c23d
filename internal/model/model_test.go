package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNumericValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"float64", 20000.0, 20000, true},
		{"int", 42, 42, true},
		{"int64", int64(-7), -7, true},
		{"uint8", uint8(3), 3, true},
		{"json number", json.Number("1.5"), 1.5, true},
		{"bad json number", json.Number("abc"), 0, false},
		{"numeric string is not numeric", "20000", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
		{"nan", math.NaN(), 0, false},
		{"inf", math.Inf(1), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NumericValue(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestIsScalar(t *testing.T) {
	assert.True(t, IsScalar("acme"))
	assert.True(t, IsScalar(12.5))
	assert.True(t, IsScalar(false))
	assert.False(t, IsScalar(nil))
	assert.False(t, IsScalar(map[string]any{"a": 1}))
	assert.False(t, IsScalar([]any{1, 2}))
}

func TestCacheEntry_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	fresh := NewCacheEntry("k", "tool", json.RawMessage(`{}`), 5, time.Minute, now)
	assert.True(t, fresh.ExpiresAt.After(fresh.CreatedAt))
	assert.False(t, fresh.Expired(now.Add(30*time.Second)))
	assert.True(t, fresh.Expired(now.Add(time.Minute)))

	zero := NewCacheEntry("k", "tool", json.RawMessage(`{}`), 5, 0, now)
	assert.True(t, zero.ExpiresAt.After(zero.CreatedAt))
	assert.True(t, zero.Expired(now), "zero TTL entry must be expired on the next lookup")
}

func TestWeightVector_SumCloneEqual(t *testing.T) {
	wv := WeightVector{Weights: map[string]float64{"team": 60, "market": 40}}
	assert.InDelta(t, 100, wv.Sum(), 1e-9)
	assert.Equal(t, []string{"market", "team"}, wv.Dimensions())

	cp := wv.Clone()
	cp.Weights["team"] = 50
	assert.InDelta(t, 60, wv.Weights["team"], 1e-9)
	assert.False(t, wv.Equal(cp))
	assert.True(t, wv.Equal(wv.Clone()))
}

func TestEstimate_Spread(t *testing.T) {
	e := Estimate{PointEstimate: 20000, Low: 17900, High: 22100}
	assert.InDelta(t, 0.105, e.Spread(), 1e-9)

	neg := Estimate{PointEstimate: -100, Low: -110, High: -90}
	assert.InDelta(t, 0.1, neg.Spread(), 1e-9)

	assert.Zero(t, Estimate{}.Spread())
}

func TestToolMeta_HasCapability(t *testing.T) {
	m := ToolMeta{Capabilities: []string{"market", "team"}}
	assert.True(t, m.HasCapability("team"))
	assert.False(t, m.HasCapability("media"))
}
