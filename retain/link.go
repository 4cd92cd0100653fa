package retain

import (
	"context"
	"log/slog"
	"sort"

	engine "github.com/membank/engine"
)

// linkUnit bundles one just-persisted unit with its resolved entity IDs, the
// input to graph-link construction (§4.7).
type linkUnit struct {
	Unit      engine.MemoryUnit
	EntityIDs []string
}

const (
	temporalWindowHours = 24
	temporalSearchLimit = 200
	temporalMaxPerUnit  = 10
	temporalMinWeight   = 0.3

	semanticTopK     = 5
	semanticMinScore = 0.7

	entityRecentLimit = 50
)

// buildLinks runs post-commit graph-link construction for a batch of
// newly-inserted units (§4.7): temporal, semantic, and entity edges, plus
// the entity-cooccurrence bump. Errors are logged and swallowed — link
// failures never fail the Retain call (§4.1 step 5, §7 "partial pipeline").
func buildLinks(ctx context.Context, store engine.Store, bank string, units []linkUnit, logger *slog.Logger) {
	if len(units) == 0 {
		return
	}

	var links []engine.MemoryLink
	links = append(links, temporalEdges(ctx, store, bank, units, logger)...)
	links = append(links, semanticEdges(ctx, store, bank, units, logger)...)
	links = append(links, entityEdges(ctx, store, bank, units, logger)...)

	if len(links) > 0 {
		if err := store.UpsertLinks(ctx, links); err != nil {
			logger.Warn("retain: upsert links failed", "bank", bank, "err", err)
		}
	}

	if err := bumpCooccurrences(ctx, store, bank, units); err != nil {
		logger.Warn("retain: upsert cooccurrences failed", "bank", bank, "err", err)
	}
}

func temporalEdges(ctx context.Context, store engine.Store, bank string, units []linkUnit, logger *slog.Logger) []engine.MemoryLink {
	var links []engine.MemoryLink
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.Unit.ID
	}

	for _, lu := range units {
		best := lu.Unit.BestTime()
		window := engine.TemporalWindow{Start: best - temporalWindowHours*3600, End: best + temporalWindowHours*3600}

		neighbours, err := store.UnitsNearTime(ctx, bank, window, ids, temporalSearchLimit)
		if err != nil {
			logger.Warn("retain: temporal neighbour fetch failed", "unit", lu.Unit.ID, "err", err)
			continue
		}

		type weighted struct {
			unit   engine.MemoryUnit
			weight float32
		}
		var candidates []weighted
		for _, n := range neighbours {
			w := temporalWeight(best, n.BestTime())
			candidates = append(candidates, weighted{n, w})
		}
		for _, other := range units {
			if other.Unit.ID == lu.Unit.ID {
				continue
			}
			w := temporalWeight(best, other.Unit.BestTime())
			if w > 0 {
				candidates = append(candidates, weighted{other.Unit, w})
			}
		}

		sort.Slice(candidates, func(i, j int) bool { return candidates[i].weight > candidates[j].weight })
		if len(candidates) > temporalMaxPerUnit {
			candidates = candidates[:temporalMaxPerUnit]
		}
		for _, c := range candidates {
			links = append(links,
				engine.MemoryLink{Bank: bank, FromUnit: lu.Unit.ID, ToUnit: c.unit.ID, LinkType: engine.LinkTemporal, Weight: c.weight},
				engine.MemoryLink{Bank: bank, FromUnit: c.unit.ID, ToUnit: lu.Unit.ID, LinkType: engine.LinkTemporal, Weight: c.weight},
			)
		}
	}
	return links
}

// temporalWeight returns §4.7's temporal edge weight, or 0 if outside the
// 24-hour window.
func temporalWeight(a, b int64) float32 {
	deltaHours := float32(absInt64(a-b)) / 3600
	if deltaHours > temporalWindowHours {
		return 0
	}
	w := 1 - deltaHours/temporalWindowHours
	if w < 0.3 {
		w = 0.3
	}
	return w
}

func semanticEdges(ctx context.Context, store engine.Store, bank string, units []linkUnit, logger *slog.Logger) []engine.MemoryLink {
	var links []engine.MemoryLink

	for _, lu := range units {
		if len(lu.Unit.Embedding) == 0 {
			continue
		}
		hits, err := store.SearchUnitsSemantic(ctx, bank, lu.Unit.Embedding, semanticMinScore, 0, semanticTopK+1, engine.UnitFilter{})
		if err != nil {
			logger.Warn("retain: semantic neighbour search failed", "unit", lu.Unit.ID, "err", err)
			continue
		}
		n := 0
		for _, h := range hits {
			if h.ID == lu.Unit.ID {
				continue
			}
			links = append(links,
				engine.MemoryLink{Bank: bank, FromUnit: lu.Unit.ID, ToUnit: h.ID, LinkType: engine.LinkSemantic, Weight: h.Score},
				engine.MemoryLink{Bank: bank, FromUnit: h.ID, ToUnit: lu.Unit.ID, LinkType: engine.LinkSemantic, Weight: h.Score},
			)
			n++
			if n >= semanticTopK {
				break
			}
		}
	}

	// Intra-batch pairs computed in-memory to save round-trips (§4.7).
	for i := range units {
		for j := i + 1; j < len(units); j++ {
			a, b := units[i].Unit, units[j].Unit
			if len(a.Embedding) == 0 || len(b.Embedding) == 0 {
				continue
			}
			sim := cosineSimilarity(a.Embedding, b.Embedding)
			if sim < semanticMinScore {
				continue
			}
			links = append(links,
				engine.MemoryLink{Bank: bank, FromUnit: a.ID, ToUnit: b.ID, LinkType: engine.LinkSemantic, Weight: sim},
				engine.MemoryLink{Bank: bank, FromUnit: b.ID, ToUnit: a.ID, LinkType: engine.LinkSemantic, Weight: sim},
			)
		}
	}
	return links
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

func entityEdges(ctx context.Context, store engine.Store, bank string, units []linkUnit, logger *slog.Logger) []engine.MemoryLink {
	var links []engine.MemoryLink

	byEntity := make(map[string][]linkUnit)
	for _, lu := range units {
		for _, eid := range lu.EntityIDs {
			byEntity[eid] = append(byEntity[eid], lu)
		}
	}

	for entityID, group := range byEntity {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i].Unit.ID, group[j].Unit.ID
				links = append(links,
					engine.MemoryLink{Bank: bank, FromUnit: a, ToUnit: b, LinkType: engine.LinkEntity, Weight: 1.0, EntityID: entityID},
					engine.MemoryLink{Bank: bank, FromUnit: b, ToUnit: a, LinkType: engine.LinkEntity, Weight: 1.0, EntityID: entityID},
				)
			}
		}

		recent, err := store.RecentUnitsForEntity(ctx, bank, entityID, entityRecentLimit)
		if err != nil {
			logger.Warn("retain: recent-units-for-entity failed", "entity", entityID, "err", err)
			continue
		}
		for _, lu := range group {
			for _, r := range recent {
				if r.ID == lu.Unit.ID {
					continue
				}
				links = append(links,
					engine.MemoryLink{Bank: bank, FromUnit: lu.Unit.ID, ToUnit: r.ID, LinkType: engine.LinkEntity, Weight: 1.0, EntityID: entityID},
					engine.MemoryLink{Bank: bank, FromUnit: r.ID, ToUnit: lu.Unit.ID, LinkType: engine.LinkEntity, Weight: 1.0, EntityID: entityID},
				)
			}
		}
	}
	return links
}

// bumpCooccurrences upserts an EntityCooccurrence row for every
// canonically-ordered entity pair within each unit carrying 2+ entities
// (§4.7 cooccurrence upsert).
func bumpCooccurrences(ctx context.Context, store engine.Store, bank string, units []linkUnit) error {
	var pairs []engine.EntityCooccurrence
	for _, lu := range units {
		ids := lu.EntityIDs
		if len(ids) < 2 {
			continue
		}
		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		for i := 0; i < len(sorted); i++ {
			for j := i + 1; j < len(sorted); j++ {
				if sorted[i] == sorted[j] {
					continue
				}
				pairs = append(pairs, engine.EntityCooccurrence{
					EntityID1:         sorted[i],
					EntityID2:         sorted[j],
					Bank:              bank,
					CooccurrenceCount: 1,
					LastCooccurred:    lu.Unit.MentionedAt,
				})
			}
		}
	}
	if len(pairs) == 0 {
		return nil
	}
	return store.UpsertCooccurrences(ctx, pairs)
}
