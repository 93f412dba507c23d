package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceTable_Resolution(t *testing.T) {
	table := NewSourceTable(nil, map[string]string{
		"SEC_EDGAR": TypeRegulatoryFiling,
		"rumor":     "gossip",
	}, TypeWeb)

	assert.Equal(t, TypeRegulatoryFiling, table.TypeOf("sec_edgar"))
	assert.InDelta(t, 0.85, table.BaseWeight("Sec_Edgar"), 1e-12)
	// Unknown sources and unknown mapped types use the default.
	assert.Equal(t, TypeWeb, table.TypeOf("someone"))
	assert.Equal(t, TypeWeb, table.TypeOf("rumor"))
}

func TestSourceTable_DefaultFallsBackToEstimation(t *testing.T) {
	table := NewSourceTable(nil, nil, "nope")
	assert.Equal(t, TypeEstimation, table.TypeOf("anything"))
	assert.InDelta(t, 0.3, table.BaseWeight("anything"), 1e-12)
}

func TestSourceTable_Types(t *testing.T) {
	types := DefaultSourceTable().Types()
	assert.Equal(t, []string{
		TypeDirectReport, TypeRegulatoryFiling, TypeFinancialDatabase, TypeNews, TypeWeb, TypeEstimation,
	}, types)

	w, ok := DefaultSourceTable().TypeWeight(TypeNews)
	assert.True(t, ok)
	assert.InDelta(t, 0.6, w, 1e-12)
}

func TestSourceTable_CustomWeights(t *testing.T) {
	table := NewSourceTable(map[string]float64{"analyst": 0.8, "estimation": 0.3}, map[string]string{"ana": "analyst"}, "estimation")
	assert.InDelta(t, 0.8, table.BaseWeight("ana"), 1e-12)
	_, ok := table.TypeWeight(TypeNews)
	assert.False(t, ok)
}
