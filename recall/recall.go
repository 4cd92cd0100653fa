// Package recall implements the embed→search→graph-walk→fuse→rerank→trim
// pipeline (§4.2): turning a natural-language query and a token budget into
// a ranked, size-bounded list of MemoryUnits.
package recall

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	engine "github.com/membank/engine"
	"github.com/membank/engine/graph"
)

// Budget selects the token/result ceiling for one Recall call (§4.2).
type Budget string

const (
	BudgetLow  Budget = "low"
	BudgetMid  Budget = "mid"
	BudgetHigh Budget = "high"
)

type budgetParams struct {
	maxTokens  int
	maxResults int
}

var budgetTable = map[Budget]budgetParams{
	BudgetLow:  {maxTokens: 2048, maxResults: 20},
	BudgetMid:  {maxTokens: 4096, maxResults: 50},
	BudgetHigh: {maxTokens: 8192, maxResults: 100},
}

const (
	graphSeedTopK    = 5
	graphSeedMinSim  = 0.5
	graphBudget      = 50
	recencyHalfLife  = 365 // days
)

// Result is the outcome of one Recall call (§6).
type Result struct {
	Memories   []engine.ScoredUnit
	TotalFound int
	Returned   int
	Budget     Budget
}

// Recaller runs the Recall pipeline (§4.2).
type Recaller struct {
	Store     engine.Store
	Embedding engine.EmbeddingProvider
	Reranker  engine.Reranker
	Tracer    engine.Tracer
	Logger    *slog.Logger

	// Now returns the current time; overridable for deterministic tests.
	Now func() time.Time
}

func (r *Recaller) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Recaller) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

// Recall runs one recall(bank, query, budget) call end-to-end (§4.2).
func (r *Recaller) Recall(ctx context.Context, bank, query string, budget Budget) (Result, error) {
	if _, err := uuid.Parse(bank); err != nil {
		return Result{}, &engine.ErrValidation{Field: "bank_id", Message: "must be a UUID"}
	}
	params, ok := budgetTable[budget]
	if !ok {
		return Result{}, &engine.ErrValidation{Field: "budget", Message: "must be low, mid, or high"}
	}

	if r.Tracer != nil {
		var span engine.Span
		ctx, span = r.Tracer.Start(ctx, "recall", engine.StringAttr("bank", bank), engine.StringAttr("budget", string(budget)))
		defer span.End()
	}

	now := r.now()

	embeddings, err := r.Embedding.Embed(ctx, []string{engine.TruncateForEmbedding(query)})
	if err != nil || len(embeddings) == 0 {
		// Step 1: embedding failure -> empty result, not a pipeline error.
		r.logger().Warn("recall: query embedding failed", "bank", bank, "err", err)
		return Result{Budget: budget}, nil
	}
	queryEmbedding := embeddings[0]

	window, hasWindow := extractTimeRange(query, now.Unix())

	var (
		semanticHits []engine.ScoredUnit
		keywordHits  []engine.ScoredUnit
		temporalHits []engine.ScoredUnit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := semanticSearch(gctx, r.Store, bank, queryEmbedding)
		if err != nil {
			return err
		}
		semanticHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := keywordSearch(gctx, r.Store, bank, query)
		if err != nil {
			return err
		}
		keywordHits = hits
		return nil
	})
	if hasWindow {
		g.Go(func() error {
			hits, err := temporalSearch(gctx, r.Store, bank, queryEmbedding, window, temporalDirectLimit, phaseAFilter)
			if err != nil {
				return err
			}
			temporalHits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	unitByID := map[string]engine.MemoryUnit{}
	for _, u := range semanticHits {
		unitByID[u.ID] = u.MemoryUnit
	}
	for _, u := range keywordHits {
		unitByID[u.ID] = u.MemoryUnit
	}
	for _, u := range temporalHits {
		unitByID[u.ID] = u.MemoryUnit
	}

	// Phase B: graph walk seeded from the strongest semantic hits (§4.2 step 4).
	seeds := map[string]float64{}
	seedHits := semanticHits
	sortScoredUnitsDesc(seedHits)
	for i, u := range seedHits {
		if i >= graphSeedTopK || u.Score < graphSeedMinSim {
			break
		}
		seeds[u.ID] = float64(u.Score)
	}

	var graphHits []graph.ScoredNode
	if len(seeds) > 0 {
		graphHits, err = graph.Search(ctx, r.Store, bank, seeds, graph.SemanticSeedPatterns, graphBudget, r.logger())
		if err != nil {
			r.logger().Warn("recall: graph search failed", "bank", bank, "err", err)
			graphHits = nil
		}
	}

	graphIDsOrdered := make(rankedList, 0, len(graphHits))
	var missingIDs []string
	for _, n := range graphHits {
		graphIDsOrdered = append(graphIDsOrdered, n.NodeID)
		if _, ok := unitByID[n.NodeID]; !ok {
			missingIDs = append(missingIDs, n.NodeID)
		}
	}
	if len(missingIDs) > 0 {
		fetched, err := r.Store.GetUnitsByIDs(ctx, bank, missingIDs)
		if err != nil {
			return Result{}, err
		}
		for _, u := range fetched {
			unitByID[u.ID] = u
		}
	}

	semanticOrdered := rankedListOf(semanticHits)
	keywordOrdered := rankedListOf(keywordHits)
	temporalOrdered := rankedListOf(temporalHits)

	fused := fuseRRF(semanticOrdered, keywordOrdered, temporalOrdered, graphIDsOrdered)
	fusedOrder := sortedIDs(fused)
	totalFound := len(fusedOrder)
	if len(fusedOrder) > rerankTopN {
		fusedOrder = fusedOrder[:rerankTopN]
	}

	candidates := make([]engine.ScoredUnit, 0, len(fusedOrder))
	for _, id := range fusedOrder {
		u, ok := unitByID[id]
		if !ok {
			continue
		}
		candidates = append(candidates, engine.ScoredUnit{MemoryUnit: u, Score: fused[id]})
	}

	ceMap := ceScore(ctx, r.Reranker, query, candidates, r.logger())

	final := scoreFinal(candidates, fused, ceMap, window, hasWindow, now)

	if len(final) > params.maxResults {
		final = final[:params.maxResults]
	}
	trimmed := trimToBudget(final, params.maxTokens)

	return Result{
		Memories:   trimmed,
		TotalFound: totalFound,
		Returned:   len(trimmed),
		Budget:     budget,
	}, nil
}

func rankedListOf(units []engine.ScoredUnit) rankedList {
	sorted := make([]engine.ScoredUnit, len(units))
	copy(sorted, units)
	sortScoredUnitsDesc(sorted)
	return unitIDs(sorted)
}

// scoreFinal applies §4.2 step 7's final scoring and sorts descending. When
// ceMap is nil (the reranker failed outright), the pipeline falls back to
// plain RRF order (§4.2 step 6) rather than computing the blended formula.
func scoreFinal(candidates []engine.ScoredUnit, fused map[string]float32, ceMap map[string]float32, window engine.TemporalWindow, hasWindow bool, now time.Time) []engine.ScoredUnit {
	if ceMap == nil {
		out := make([]engine.ScoredUnit, len(candidates))
		copy(out, candidates)
		sortScoredUnitsDesc(out)
		return out
	}

	var maxRRF float32
	for _, s := range fused {
		if s > maxRRF {
			maxRRF = s
		}
	}

	mid := (window.Start + window.End) / 2
	nowUnix := now.Unix()

	out := make([]engine.ScoredUnit, len(candidates))
	for i, c := range candidates {
		ce := ceMap[c.ID]
		rrfNorm := float32(0)
		if maxRRF > 0 {
			rrfNorm = fused[c.ID] / maxRRF
		}
		recency := recencyScore(c.CreatedAt, nowUnix)
		var temporalProx float32
		if hasWindow {
			temporalProx = temporalProximity(c.BestTime(), window.Start, window.End, mid)
		}
		score := 0.5*ce + 0.3*rrfNorm + 0.1*recency + 0.1*temporalProx
		out[i] = engine.ScoredUnit{MemoryUnit: c.MemoryUnit, Score: score}
	}
	sortScoredUnitsDesc(out)
	return out
}

func recencyScore(createdAt, nowUnix int64) float32 {
	ageDays := float64(nowUnix-createdAt) / 86400
	if ageDays < 0 {
		ageDays = 0
	}
	score := 1 - ageDays/recencyHalfLife
	if score < 0 {
		return 0
	}
	return float32(score)
}
