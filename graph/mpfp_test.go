package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	engine "github.com/membank/engine"
	"github.com/membank/engine/internal/enginetest"
)

func link(bank, from, to string, lt engine.LinkType, weight float32) engine.MemoryLink {
	return engine.MemoryLink{Bank: bank, FromUnit: from, ToUnit: to, LinkType: lt, Weight: weight}
}

func TestSearchWalksSemanticEdges(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	a, b, c := engine.NewID(), engine.NewID(), engine.NewID()
	require.NoError(t, store.UpsertLinks(context.Background(), []engine.MemoryLink{
		link(bank, a, b, engine.LinkSemantic, 0.9),
		link(bank, b, c, engine.LinkSemantic, 0.8),
	}))

	seeds := map[string]float64{a: 1.0}
	results, err := Search(context.Background(), store, bank, seeds, SemanticSeedPatterns, DefaultBudget, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	var foundB bool
	for _, r := range results {
		if r.NodeID == b {
			foundB = true
		}
	}
	require.True(t, foundB)
}

func TestSearchReturnsEmptyWithNoSeeds(t *testing.T) {
	store := enginetest.New()
	results, err := Search(context.Background(), store, uuid.NewString(), nil, SemanticSeedPatterns, DefaultBudget, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchRespectsBudget(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	seed := engine.NewID()
	var links []engine.MemoryLink
	for i := 0; i < 30; i++ {
		links = append(links, link(bank, seed, engine.NewID(), engine.LinkSemantic, 0.5))
	}
	require.NoError(t, store.UpsertLinks(context.Background(), links))

	results, err := Search(context.Background(), store, bank, map[string]float64{seed: 1.0}, SemanticSeedPatterns, 5, nil)
	require.NoError(t, err)
	require.LessOrEqual(t, len(results), 5)
}

func TestRRFFusePrefersNodesInMultiplePatterns(t *testing.T) {
	w1 := &walkState{pattern: Pattern{Name: "p1"}, scores: map[string]float64{"x": 1, "y": 0.5}}
	w2 := &walkState{pattern: Pattern{Name: "p2"}, scores: map[string]float64{"x": 1}}

	fused := rrfFuse([]*walkState{w1, w2})
	var xScore, yScore float64
	for _, n := range fused {
		if n.NodeID == "x" {
			xScore = n.Score
		}
		if n.NodeID == "y" {
			yScore = n.Score
		}
	}
	require.Greater(t, xScore, yScore)
}
