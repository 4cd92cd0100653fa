package recall

import "sort"

// rrfK is the Reciprocal Rank Fusion constant shared by every ranked list
// fused in Recall (§4.2 step 5), matching graph search's own K (§4.4).
const rrfK = 60

// rankedList is one ordered list of unit IDs contributed by one retrieval
// phase (semantic, keyword, temporal, or graph).
type rankedList []string

// fuseRRF combines any number of ranked ID lists via Reciprocal Rank Fusion,
// generalising the teacher's reciprocalRankFusion (retriever.go) from a
// fixed two-list (vector, keyword) merge to N lists of equal weight.
func fuseRRF(lists ...rankedList) map[string]float32 {
	scores := map[string]float32{}
	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / float32(rrfK+rank+1)
		}
	}
	return scores
}

// sortedIDs returns the keys of scores ordered by descending score, ties
// broken by ID for determinism (§4.2 "Ordering guarantee").
func sortedIDs(scores map[string]float32) []string {
	out := make([]string, 0, len(scores))
	for id := range scores {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if scores[out[i]] != scores[out[j]] {
			return scores[out[i]] > scores[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
