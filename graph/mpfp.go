// Package graph implements Meta-Path Forward Push (MPFP, §4.4): a
// hop-synchronised, multi-pattern random-walk search over the typed memory
// graph, producing a ranked list of reachable units from one or more seed
// nodes. Grounded on the teacher's reciprocalRankFusion (retriever.go) for
// the final multi-pattern fuse, generalised from a two-list merge to an
// arbitrary number of per-pattern score maps.
package graph

import (
	"context"
	"log/slog"
	"sort"

	engine "github.com/membank/engine"
	"github.com/membank/engine/internal/cache"
)

// Parameters fixed by §4.4.
const (
	Alpha           = 0.15  // teleport/hold probability
	PruneThreshold  = 1e-6  // residual mass below which a frontier node is dropped
	FanOut          = 20    // per-node, per-edge-type neighbour cap
	rrfK            = 60
	DefaultBudget   = 50
)

// Pattern is one 2-hop meta-path: a sequence of edge types consumed one hop
// at a time, hop-synchronised with every other live pattern (§4.4).
type Pattern struct {
	Name      string
	EdgeTypes []engine.LinkType
}

// SemanticSeedPatterns are run when the seeds come from Recall's top
// semantic hits (§4.4 table, "Semantic seeds").
var SemanticSeedPatterns = []Pattern{
	{Name: "semantic_semantic", EdgeTypes: []engine.LinkType{engine.LinkSemantic, engine.LinkSemantic}},
	{Name: "entity_temporal", EdgeTypes: []engine.LinkType{engine.LinkEntity, engine.LinkTemporal}},
	{Name: "semantic_causes", EdgeTypes: []engine.LinkType{engine.LinkSemantic, engine.LinkCauses}},
	{Name: "semantic_caused_by", EdgeTypes: []engine.LinkType{engine.LinkSemantic, engine.LinkCausedBy}},
	{Name: "entity_semantic", EdgeTypes: []engine.LinkType{engine.LinkEntity, engine.LinkSemantic}},
}

// TemporalSeedPatterns are run when the seeds come from a temporal-search
// hit set (§4.4 table, "Temporal seeds").
var TemporalSeedPatterns = []Pattern{
	{Name: "temporal_semantic", EdgeTypes: []engine.LinkType{engine.LinkTemporal, engine.LinkSemantic}},
	{Name: "temporal_entity", EdgeTypes: []engine.LinkType{engine.LinkTemporal, engine.LinkEntity}},
}

// ScoredNode is one MPFP result: a unit ID with its fused score.
type ScoredNode struct {
	NodeID string
	Score  float64
}

// Search runs hop-synchronised MPFP from seeds (unit ID -> seed mass) over
// patterns, returning the top-budget nodes by RRF-fused score (§4.4). Seeds
// keep Alpha of their mass at the first hop, so they can appear in the result.
func Search(ctx context.Context, store engine.Store, bank string, seeds map[string]float64, patterns []Pattern, budget int, logger *slog.Logger) ([]ScoredNode, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	if len(seeds) == 0 || len(patterns) == 0 {
		return nil, nil
	}

	maxHops := 0
	for _, p := range patterns {
		if len(p.EdgeTypes) > maxHops {
			maxHops = len(p.EdgeTypes)
		}
	}

	walks := make([]*walkState, len(patterns))
	for i, p := range patterns {
		walks[i] = newWalkState(p, seeds)
	}

	neighbourCache, err := cache.New[engine.EdgeTypeNode, []engine.Neighbour](4096)
	if err != nil {
		return nil, err
	}
	defer neighbourCache.Close()

	for hop := 0; hop < maxHops; hop++ {
		var uncached []engine.EdgeTypeNode
		seen := map[engine.EdgeTypeNode]bool{}

		for _, w := range walks {
			if hop >= len(w.pattern.EdgeTypes) {
				continue
			}
			edgeType := w.pattern.EdgeTypes[hop]
			for node := range w.frontier {
				key := engine.EdgeTypeNode{EdgeType: edgeType, NodeID: node}
				if _, ok := neighbourCache.Get(key); ok {
					continue
				}
				if seen[key] {
					continue
				}
				seen[key] = true
				uncached = append(uncached, key)
			}
		}

		if len(uncached) > 0 {
			fetched, err := store.BatchNeighbours(ctx, bank, uncached, FanOut)
			if err != nil {
				logger.Warn("graph: batch neighbour fetch failed", "bank", bank, "hop", hop, "err", err)
			} else {
				for k, v := range fetched {
					neighbourCache.Set(k, v)
				}
			}
		}

		for _, w := range walks {
			if hop >= len(w.pattern.EdgeTypes) {
				continue
			}
			w.step(w.pattern.EdgeTypes[hop], neighbourCache)
		}
	}

	for _, w := range walks {
		w.foldResidual()
	}

	fused := rrfFuse(walks)
	sort.Slice(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	if len(fused) > budget {
		fused = fused[:budget]
	}
	return fused, nil
}

// walkState tracks one pattern's live frontier mass and accumulated scores
// across the hop loop.
type walkState struct {
	pattern  Pattern
	frontier map[string]float64
	scores   map[string]float64
}

func newWalkState(p Pattern, seeds map[string]float64) *walkState {
	var total float64
	for _, m := range seeds {
		total += m
	}
	frontier := make(map[string]float64, len(seeds))
	if total > 0 {
		for node, m := range seeds {
			frontier[node] = m / total
		}
	}
	return &walkState{pattern: p, frontier: frontier, scores: map[string]float64{}}
}

// step consumes one hop: holds alpha*mass on each frontier node (into
// scores), and pushes (1-alpha)*mass along edgeType, weighted by
// fan-out-capped, renormalised neighbour weights (§4.4 step 2a).
func (w *walkState) step(edgeType engine.LinkType, neighbourCache *cache.Cache[engine.EdgeTypeNode, []engine.Neighbour]) {
	next := map[string]float64{}

	for node, mass := range w.frontier {
		w.scores[node] += Alpha * mass
		pushMass := (1 - Alpha) * mass

		neighbours, _ := neighbourCache.Get(engine.EdgeTypeNode{EdgeType: edgeType, NodeID: node})
		if len(neighbours) == 0 {
			continue
		}

		var weightSum float32
		for _, n := range neighbours {
			weightSum += n.Weight
		}
		if weightSum <= 0 {
			continue
		}
		for _, n := range neighbours {
			share := pushMass * float64(n.Weight/weightSum)
			if share < PruneThreshold {
				continue
			}
			next[n.NodeID] += share
		}
	}

	w.frontier = next
}

// foldResidual folds whatever mass remains on the frontier after the last
// hop into scores (§4.4 step 3).
func (w *walkState) foldResidual() {
	for node, mass := range w.frontier {
		w.scores[node] += mass
	}
}

// rrfFuse combines every pattern's score map via Reciprocal Rank Fusion
// (§4.4 step 4), generalising the teacher's two-list reciprocalRankFusion
// to N ranked lists.
func rrfFuse(walks []*walkState) []ScoredNode {
	fused := map[string]float64{}
	for _, w := range walks {
		type entry struct {
			node  string
			score float64
		}
		ranked := make([]entry, 0, len(w.scores))
		for node, score := range w.scores {
			ranked = append(ranked, entry{node, score})
		}
		sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
		for rank, e := range ranked {
			fused[e.node] += 1.0 / float64(rrfK+rank+1)
		}
	}

	out := make([]ScoredNode, 0, len(fused))
	for node, score := range fused {
		out = append(out, ScoredNode{NodeID: node, Score: score})
	}
	return out
}
