// Package scorer turns per-dimension estimates and a weight vector into an
// overall score and a recommendation tier.
package scorer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/target-signal/internal/config"
)

// Tier is one row of the recommendation threshold table.
type Tier struct {
	Name     string  `json:"name" yaml:"name"`
	MinScore float64 `json:"min_score" yaml:"min_score"`
}

// DefaultTiers returns the built-in threshold table.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "priority", MinScore: 4.5},
		{Name: "pursue", MinScore: 3.5},
		{Name: "monitor", MinScore: 2.5},
		{Name: "pass", MinScore: 0},
	}
}

// Table selects a tier for a score. Rows are held highest threshold first.
type Table struct {
	tiers []Tier
}

// NewTable validates tiers and orders them by descending threshold.
func NewTable(tiers []Tier) (*Table, error) {
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinScore > sorted[j].MinScore })
	return &Table{tiers: sorted}, nil
}

// TableFromConfig builds a table from the scoring config.
func TableFromConfig(rows []config.TierConfig) (*Table, error) {
	tiers := make([]Tier, len(rows))
	for i, r := range rows {
		tiers[i] = Tier{Name: r.Name, MinScore: r.MinScore}
	}
	return NewTable(tiers)
}

// ValidateTiers checks that a tier table is usable.
func ValidateTiers(tiers []Tier) error {
	var errs []string

	if len(tiers) == 0 {
		errs = append(errs, "at least one tier is required")
	}
	seen := make(map[string]bool, len(tiers))
	for i, t := range tiers {
		name := strings.TrimSpace(t.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Sprintf("tier %d: name is required", i))
		case seen[name]:
			errs = append(errs, fmt.Sprintf("tier %q: duplicate name", name))
		}
		seen[name] = true
		if t.MinScore < 0 {
			errs = append(errs, fmt.Sprintf("tier %q: min_score must be >= 0", name))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: tier validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Tier returns the first tier whose threshold the score meets. Scores below
// every threshold fall into the lowest tier.
func (t *Table) Tier(score float64) string {
	for _, tier := range t.tiers {
		if score >= tier.MinScore {
			return tier.Name
		}
	}
	return t.tiers[len(t.tiers)-1].Name
}

// Tiers returns a copy of the ordered table.
func (t *Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}
