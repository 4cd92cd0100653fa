package retain

import (
	"context"
	"strings"

	engine "github.com/membank/engine"
)

// entityMatchMinScore is the minimum combined score for a name to be
// resolved to an existing Entity rather than creating a new one (§4.6 step 3).
const entityMatchMinScore = 0.6

// scoreEntities scores the free-form names in one fact's who[] against the
// bank's known entities (§4.6 steps 1-3), returning which names matched an
// existing entity and which must be created. The entity/cooccurrence fetch
// is two queries regardless of input size; PersistFact's own writes (batch
// insert of new names, bump of matched ones) complete the 3-or-4-query
// count from §8's entity-query-count law.
func scoreEntities(ctx context.Context, store engine.Store, bank string, names []string, eventDate *int64) (matched map[string]string, created []string, err error) {
	unique := dedupeNames(names)
	if len(unique) == 0 {
		return map[string]string{}, nil, nil
	}

	entities, err := store.ListEntities(ctx, bank)
	if err != nil {
		return nil, nil, err
	}
	coocMap, err := store.GetCooccurrenceMap(ctx, bank)
	if err != nil {
		return nil, nil, err
	}

	lowerNames := make([]string, len(unique))
	for i, n := range unique {
		lowerNames[i] = strings.ToLower(n)
	}

	matched = make(map[string]string, len(unique))

	for i, name := range unique {
		lower := lowerNames[i]
		nearby := otherNames(lowerNames, i)

		best := entityMatchMinScore
		var bestID string
		for _, e := range entities {
			score := scoreCandidate(lower, e, nearby, coocMap[e.ID], eventDate)
			if score >= best {
				best = score
				bestID = e.ID
			}
		}

		if bestID != "" {
			matched[name] = bestID
		} else {
			created = append(created, name)
		}
	}

	return matched, created, nil
}

// scoreCandidate computes §4.6 step 2's match score for one candidate entity.
func scoreCandidate(lowerName string, e engine.Entity, nearby []string, knownCooc map[string]bool, eventDate *int64) float64 {
	if strings.ToLower(e.CanonicalName) == lowerName {
		return 1.0
	}

	nameSim := lcsRatio(lowerName, strings.ToLower(e.CanonicalName))

	var coocScore float64
	if len(nearby) > 0 {
		hits := 0
		for _, n := range nearby {
			if knownCooc[n] {
				hits++
			}
		}
		coocScore = float64(hits) / float64(len(nearby))
	}

	var temporalScore float64
	if eventDate != nil && e.LastSeen != 0 {
		days := absInt64(*eventDate-e.LastSeen) / 86400
		temporalScore = maxF(0, 1-float64(days)/7)
	}

	return 0.5*nameSim + 0.3*coocScore + 0.2*temporalScore
}

// lcsRatio returns the longest-common-subsequence length of a and b divided
// by the longer string's length, in [0,1].
func lcsRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	n, m := len(ra), len(rb)
	prev := make([]int, m+1)
	cur := make([]int, m+1)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	lcs := prev[m]
	longest := n
	if m > longest {
		longest = m
	}
	return float64(lcs) / float64(longest)
}

func otherNames(all []string, exclude int) []string {
	out := make([]string, 0, len(all)-1)
	for i, n := range all {
		if i != exclude {
			out = append(out, n)
		}
	}
	return out
}

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
