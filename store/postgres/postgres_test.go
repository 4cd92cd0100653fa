package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	engine "github.com/membank/engine"
)

// newTestStore spins up a disposable Postgres container with pgvector and
// initializes a fresh Store schema against it. Skips when Docker isn't
// reachable so the suite stays runnable in sandboxed environments.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"pgvector/pgvector:pg16",
		tcpostgres.WithDatabase("membank"),
		tcpostgres.WithUsername("membank"),
		tcpostgres.WithPassword("membank"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable, skipping: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := New(pool, WithEmbeddingDimension(8))
	require.NoError(t, store.Init(ctx))
	return store
}

func testEmbedding(seed float32) []float32 {
	v := make([]float32, 8)
	for i := range v {
		v[i] = seed
	}
	return v
}

func TestStoreInitIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init(context.Background()))
}

func TestInsertAndGetUnit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := engine.MemoryUnit{
		ID:          "unit-1",
		Bank:        "bank-a",
		Text:        "Alice got a promotion",
		FactType:    engine.FactWorld,
		FactKind:    engine.KindEvent,
		Who:         []string{"Alice"},
		Tags:        []string{"career"},
		MentionedAt: 1000,
		Embedding:   testEmbedding(0.1),
	}
	require.NoError(t, s.InsertUnit(ctx, u))

	fetched, err := s.GetUnit(ctx, "bank-a", "unit-1")
	require.NoError(t, err)
	require.Equal(t, "Alice got a promotion", fetched.Text)
	require.Equal(t, []string{"Alice"}, fetched.Who)
	require.Equal(t, []string{"career"}, fetched.Tags)
	require.Len(t, fetched.Embedding, 8)
}

func TestPersistFactCreatesEntitiesAndCooccurrences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := engine.MemoryUnit{
		Bank:        "bank-a",
		Text:        "Alice and Bob had lunch",
		FactType:    engine.FactWorld,
		FactKind:    engine.KindEvent,
		Who:         []string{"Alice", "Bob"},
		MentionedAt: 2000,
	}
	persisted, resolved, err := s.PersistFact(ctx, u, []string{"Alice", "Bob"}, nil, 2000)
	require.NoError(t, err)
	require.NotEmpty(t, persisted.ID)
	require.Len(t, resolved, 2)

	entities, err := s.ListEntities(ctx, "bank-a")
	require.NoError(t, err)
	require.Len(t, entities, 2)

	coocc, err := s.GetCooccurrenceMap(ctx, "bank-a")
	require.NoError(t, err)
	require.Contains(t, coocc, resolved["Alice"])
	require.True(t, coocc[resolved["Alice"]]["bob"])
}

func TestSearchUnitsSemanticRespectsPerTypeLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertUnit(ctx, engine.MemoryUnit{
			Bank:        "bank-a",
			Text:        "world fact",
			FactType:    engine.FactWorld,
			FactKind:    engine.KindEvent,
			MentionedAt: int64(i),
			Embedding:   testEmbedding(0.5),
		}))
	}

	results, err := s.SearchUnitsSemantic(ctx, "bank-a", testEmbedding(0.5), 0.0, 2, 10,
		engine.UnitFilter{FactTypes: []engine.FactType{engine.FactWorld}})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestSearchUnitsKeywordUsesTrigramSimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertUnit(ctx, engine.MemoryUnit{
		Bank:        "bank-a",
		Text:        "Alice loves hiking in the mountains",
		FactType:    engine.FactWorld,
		FactKind:    engine.KindEvent,
		MentionedAt: 1,
	}))

	results, err := s.SearchUnitsKeyword(ctx, "bank-a", []string{"hiking"}, 0, 10, engine.UnitFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestMarkConsolidatedAndUnconsolidatedBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := engine.MemoryUnit{
		ID:          "unit-2",
		Bank:        "bank-a",
		Text:        "raw fact",
		FactType:    engine.FactWorld,
		FactKind:    engine.KindEvent,
		MentionedAt: 1,
	}
	require.NoError(t, s.InsertUnit(ctx, u))

	batch, err := s.UnconsolidatedBatch(ctx, "bank-a", 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, s.MarkConsolidated(ctx, "bank-a", u.ID, 500))

	batch, err = s.UnconsolidatedBatch(ctx, "bank-a", 10)
	require.NoError(t, err)
	require.Empty(t, batch)
}

func TestUpsertLinksIgnoresDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := engine.MemoryUnit{ID: "unit-a", Bank: "bank-a", Text: "a", FactType: engine.FactWorld, FactKind: engine.KindEvent, MentionedAt: 1}
	b := engine.MemoryUnit{ID: "unit-b", Bank: "bank-a", Text: "b", FactType: engine.FactWorld, FactKind: engine.KindEvent, MentionedAt: 2}
	require.NoError(t, s.InsertUnit(ctx, a))
	require.NoError(t, s.InsertUnit(ctx, b))

	link := engine.MemoryLink{Bank: "bank-a", FromUnit: a.ID, ToUnit: b.ID, LinkType: engine.LinkTemporal, Weight: 0.5}
	require.NoError(t, s.UpsertLinks(ctx, []engine.MemoryLink{link, link}))

	links, err := s.LinksFromUnits(ctx, "bank-a", []string{a.ID}, []engine.LinkType{engine.LinkTemporal}, 0)
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestBatchNeighboursReturnsEntryForEveryPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := engine.MemoryUnit{ID: "unit-a", Bank: "bank-a", Text: "a", FactType: engine.FactWorld, FactKind: engine.KindEvent, MentionedAt: 1}
	b := engine.MemoryUnit{ID: "unit-b", Bank: "bank-a", Text: "b", FactType: engine.FactWorld, FactKind: engine.KindEvent, MentionedAt: 2}
	require.NoError(t, s.InsertUnit(ctx, a))
	require.NoError(t, s.InsertUnit(ctx, b))
	require.NoError(t, s.UpsertLinks(ctx, []engine.MemoryLink{
		{Bank: "bank-a", FromUnit: a.ID, ToUnit: b.ID, LinkType: engine.LinkTemporal, Weight: 0.9},
	}))

	pairs := []engine.EdgeTypeNode{
		{EdgeType: engine.LinkTemporal, NodeID: a.ID},
		{EdgeType: engine.LinkTemporal, NodeID: "unknown-node"},
	}
	neighbours, err := s.BatchNeighbours(ctx, "bank-a", pairs, 20)
	require.NoError(t, err)
	require.Len(t, neighbours, 2)
	require.Len(t, neighbours[pairs[0]], 1)
	require.Nil(t, neighbours[pairs[1]])
}

func TestSearchMentalModelsTagModes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tagged := engine.MentalModel{
		ID:        "model-tagged",
		Bank:      "bank-a",
		Name:      "Alice's hiking habits",
		Content:   "Alice hikes every weekend",
		Tags:      []string{"hobby"},
		Embedding: testEmbedding(0.3),
	}
	untagged := engine.MentalModel{
		ID:        "model-untagged",
		Bank:      "bank-a",
		Name:      "Alice's work style",
		Content:   "Alice prefers async communication",
		Embedding: testEmbedding(0.3),
	}
	require.NoError(t, s.InsertMentalModel(ctx, tagged))
	require.NoError(t, s.InsertMentalModel(ctx, untagged))

	anyResults, err := s.SearchMentalModels(ctx, "bank-a", testEmbedding(0.3), 0.0, 10,
		[]string{"hobby"}, engine.TagMatchAny, nil)
	require.NoError(t, err)
	require.Len(t, anyResults, 2, "non-strict any passes through untagged items")

	strictResults, err := s.SearchMentalModels(ctx, "bank-a", testEmbedding(0.3), 0.0, 10,
		[]string{"hobby"}, engine.TagMatchAnyStrict, nil)
	require.NoError(t, err)
	require.Len(t, strictResults, 1, "any_strict excludes untagged items")
	require.Equal(t, "Alice's hiking habits", strictResults[0].Name)
}

func TestGetChunksForUnitsOrdersByIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := engine.MemoryUnit{ID: "unit-doc", Bank: "bank-a", Text: "long doc", FactType: engine.FactWorld, FactKind: engine.KindEvent, MentionedAt: 1}
	require.NoError(t, s.InsertUnit(ctx, u))

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chunks (memory_unit_id, chunk_index, text) VALUES ($1, 1, 'second'), ($1, 0, 'first')`, u.ID)
	require.NoError(t, err)

	chunks, err := s.GetChunksForUnits(ctx, "bank-a", []string{u.ID})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, "first", chunks[0].Text)
	require.Equal(t, "second", chunks[1].Text)
}
