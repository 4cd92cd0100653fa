package recall

import (
	"sort"

	engine "github.com/membank/engine"
)

// sortScoredUnitsDesc sorts units by descending Score, ties broken by ID
// for determinism (§4.2 "Ordering guarantee").
func sortScoredUnitsDesc(units []engine.ScoredUnit) {
	sort.Slice(units, func(i, j int) bool {
		if units[i].Score != units[j].Score {
			return units[i].Score > units[j].Score
		}
		return units[i].ID < units[j].ID
	})
}

// unitIDs extracts the ID of each unit, preserving order.
func unitIDs(units []engine.ScoredUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.ID
	}
	return out
}
