package engine

import "context"

// UnitFilter narrows MemoryUnit search and listing operations.
type UnitFilter struct {
	FactTypes []FactType
	Tags      []string
	TagMatch  TagMatch
}

// TemporalWindow is an inclusive UTC time range, unix seconds.
type TemporalWindow struct {
	Start int64
	End   int64
}

// Neighbour is one edge-weighted neighbour of a node, used by graph search's
// batched fan-out fetch (§4.4).
type Neighbour struct {
	NodeID string
	Weight float32
}

// Store abstracts persistence for one or more Banks with vector search,
// trigram keyword search, and typed-edge graph traversal (§6's store
// contract). Every operation is bank-scoped via an explicit bank parameter.
type Store interface {
	// --- Units ---
	InsertUnit(ctx context.Context, u MemoryUnit) error
	// PersistFact inserts one raw fact together with its resolved entity
	// links in a single transaction (§4.1 step 4): the unit insert, the
	// UnitEntity rows, and the cooccurrence bump for entity pairs sharing the
	// fact all commit or fail together, so a failure leaves no partial unit.
	// newNames are who[] names with no existing-entity match (created here);
	// matchedNames maps already-resolved names to their entity ID.
	PersistFact(ctx context.Context, u MemoryUnit, newNames []string, matchedNames map[string]string, at int64) (MemoryUnit, map[string]string, error)
	GetUnit(ctx context.Context, bank, id string) (MemoryUnit, error)
	GetUnitsByIDs(ctx context.Context, bank string, ids []string) ([]MemoryUnit, error)
	UpdateObservation(ctx context.Context, u MemoryUnit) error
	MarkConsolidated(ctx context.Context, bank, id string, at int64) error
	SetFreshness(ctx context.Context, bank, id string, status FreshnessStatus) error

	// SearchUnitsSemantic returns units ranked by cosine similarity to
	// embedding, restricted to filter.FactTypes, above minScore, balanced
	// per fact_type via ROW_NUMBER() partitioning when perTypeLimit > 0.
	SearchUnitsSemantic(ctx context.Context, bank string, embedding []float32, minScore float32, perTypeLimit, totalLimit int, filter UnitFilter) ([]ScoredUnit, error)

	// SearchUnitsKeyword scores units by trigram similarity of each keyword
	// against text/context, taking the max per unit across keywords.
	SearchUnitsKeyword(ctx context.Context, bank string, keywords []string, perTypeLimit, totalLimit int, filter UnitFilter) ([]ScoredUnit, error)

	// SearchUnitsTemporal returns units whose best-time (event date, else
	// occurred start, else mentioned at) falls in window, above minScore
	// similarity to embedding (§4.5 phase 1).
	SearchUnitsTemporal(ctx context.Context, bank string, embedding []float32, window TemporalWindow, minScore float32, limit int, filter UnitFilter) ([]ScoredUnit, error)

	// UnconsolidatedBatch returns up to limit units with consolidated_at IS
	// NULL and fact_type IN (world, experience), oldest created_at first.
	UnconsolidatedBatch(ctx context.Context, bank string, limit int) ([]MemoryUnit, error)

	// ListObservations returns every fact_type='observation' unit in bank,
	// for the post-iteration freshness batch pass (§4.8).
	ListObservations(ctx context.Context, bank string) ([]MemoryUnit, error)

	// FindSimilarUnit returns one existing unit of the given fact_kind whose
	// embedding cosine similarity to embedding is >= minScore, for Retain's
	// deduplication check (§4.1 step 3). When window is non-nil the search is
	// restricted to units whose best-time falls in the window (the 12-hour
	// event bucket); nil searches the whole bank (conversation-kind facts).
	FindSimilarUnit(ctx context.Context, bank string, kind FactKind, window *TemporalWindow, embedding []float32, minScore float32) (MemoryUnit, bool, error)

	// Banks returns every bank ID with at least one unit, for the
	// consolidation worker's per-bank iteration.
	Banks(ctx context.Context) ([]string, error)
	GetBank(ctx context.Context, id string) (Bank, error)

	// --- Entities ---
	ListEntities(ctx context.Context, bank string) ([]Entity, error)
	GetCooccurrenceMap(ctx context.Context, bank string) (map[string]map[string]bool, error)
	InsertUnitEntities(ctx context.Context, links []UnitEntity) error
	GetEntityIDsForUnit(ctx context.Context, bank, unitID string) ([]string, error)
	// UpsertEntitiesByName inserts the named entities, upserting on
	// conflict over (bank, canonical_name), bumping mention_count and last_seen; returns the
	// resulting entity IDs keyed by the input name.
	UpsertEntitiesByName(ctx context.Context, bank string, names []string, at int64) (map[string]string, error)
	// BumpEntities increments mention_count/last_seen for existing entities.
	BumpEntities(ctx context.Context, bank string, ids []string, at int64) error
	UpsertCooccurrences(ctx context.Context, pairs []EntityCooccurrence) error
	// EntitiesLinkedObservationCount returns, for each entity ID, how many
	// bank-scoped observation units are linked to it (auto mental-model
	// generation threshold, §4.3).
	EntitiesLinkedObservationCount(ctx context.Context, bank string, entityIDs []string) (map[string]int, error)

	// --- Links ---
	// UpsertLinks inserts links in batches of up to 500, ON CONFLICT (from,
	// to, link_type, entity_id) DO NOTHING; entity_id is '' on non-entity edges.
	UpsertLinks(ctx context.Context, links []MemoryLink) error
	// UnitsNearTime returns up to limit units in bank with a best-time
	// within the window, excluding excludeIDs.
	UnitsNearTime(ctx context.Context, bank string, window TemporalWindow, excludeIDs []string, limit int) ([]MemoryUnit, error)
	// RecentUnitsForEntity returns up to limit of the most-recently-mentioned
	// units linked to entityID, for entity-edge construction (§4.7).
	RecentUnitsForEntity(ctx context.Context, bank, entityID string, limit int) ([]MemoryUnit, error)
	// LinksFromUnits follows outgoing edges of the given types from the
	// given units with weight >= minWeight, strongest first; the number of
	// edges per source node is not limited (§4.5 link expansion).
	LinksFromUnits(ctx context.Context, bank string, unitIDs []string, types []LinkType, minWeight float32) ([]MemoryLink, error)

	// --- Graph (§4.4 MPFP) ---
	// BatchNeighbours fetches, for each (edgeType, nodeID) pair not already
	// known to the caller, the top-fanOut neighbours by raw weight — one
	// round-trip regardless of pair count (LATERAL JOIN in the Postgres
	// implementation).
	BatchNeighbours(ctx context.Context, bank string, pairs []EdgeTypeNode, fanOut int) (map[EdgeTypeNode][]Neighbour, error)

	// --- Mental models ---
	InsertMentalModel(ctx context.Context, m MentalModel) error
	UpdateMentalModel(ctx context.Context, m MentalModel) error
	DeleteMentalModel(ctx context.Context, bank, id string) error
	GetMentalModelsByTrigger(ctx context.Context, bank string, refreshAfterConsolidation bool, limit int) ([]MentalModel, error)
	GetMentalModelByEntity(ctx context.Context, bank, entityID string) (MentalModel, bool, error)
	FindMentalModelByNameSimilarity(ctx context.Context, bank, name string, minScore float32) (MentalModel, bool, error)
	SearchMentalModels(ctx context.Context, bank string, embedding []float32, minScore float32, limit int, tags []string, tagMatch TagMatch, excludeIDs []string) ([]ScoredModel, error)

	// --- Chunks ---
	GetChunksForUnits(ctx context.Context, bank string, unitIDs []string) ([]Chunk, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}

// EdgeTypeNode identifies one (edge type, source node) pair in the graph
// search neighbour cache (§4.4).
type EdgeTypeNode struct {
	EdgeType LinkType
	NodeID   string
}
