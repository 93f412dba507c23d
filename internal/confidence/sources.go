package confidence

import (
	"sort"
	"strings"
)

// Source types, from most to least trusted.
const (
	TypeDirectReport      = "direct_report"
	TypeRegulatoryFiling  = "regulatory_filing"
	TypeFinancialDatabase = "financial_database"
	TypeNews              = "news"
	TypeWeb               = "web"
	TypeEstimation        = "estimation"
)

// DefaultTypeWeights is the built-in source type to base weight table.
var DefaultTypeWeights = map[string]float64{
	TypeDirectReport:      0.9,
	TypeRegulatoryFiling:  0.85,
	TypeFinancialDatabase: 0.75,
	TypeNews:              0.6,
	TypeWeb:               0.5,
	TypeEstimation:        0.3,
}

// SourceTable resolves source names to types and types to base weights.
// It is read-only after construction.
type SourceTable struct {
	weights     map[string]float64
	sources     map[string]string
	defaultType string
}

// NewSourceTable builds a table. Source names match case-insensitively.
// An empty types map uses DefaultTypeWeights; an unknown defaultType falls
// back to estimation.
func NewSourceTable(types map[string]float64, sources map[string]string, defaultType string) *SourceTable {
	if len(types) == 0 {
		types = DefaultTypeWeights
	}
	t := &SourceTable{
		weights: make(map[string]float64, len(types)),
		sources: make(map[string]string, len(sources)),
	}
	for typ, w := range types {
		t.weights[typ] = w
	}
	for name, typ := range sources {
		t.sources[strings.ToLower(name)] = typ
	}
	if _, ok := t.weights[defaultType]; !ok {
		defaultType = TypeEstimation
	}
	t.defaultType = defaultType
	return t
}

// DefaultSourceTable returns a table with the built-in weights and no
// source mappings.
func DefaultSourceTable() *SourceTable {
	return NewSourceTable(nil, nil, TypeEstimation)
}

// TypeOf returns the type of a named source, or the default type.
func (t *SourceTable) TypeOf(sourceName string) string {
	if typ, ok := t.sources[strings.ToLower(sourceName)]; ok {
		if _, known := t.weights[typ]; known {
			return typ
		}
	}
	return t.defaultType
}

// BaseWeight returns the base weight of a named source.
func (t *SourceTable) BaseWeight(sourceName string) float64 {
	return t.weights[t.TypeOf(sourceName)]
}

// TypeWeight returns the weight of a source type.
func (t *SourceTable) TypeWeight(typ string) (float64, bool) {
	w, ok := t.weights[typ]
	return w, ok
}

// Types returns the configured type names ordered by weight descending.
func (t *SourceTable) Types() []string {
	out := make([]string, 0, len(t.weights))
	for typ := range t.weights {
		out = append(out, typ)
	}
	sort.Slice(out, func(i, j int) bool {
		if t.weights[out[i]] != t.weights[out[j]] {
			return t.weights[out[i]] > t.weights[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
