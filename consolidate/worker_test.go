package consolidate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/membank/engine"
	"github.com/membank/engine/internal/enginetest"
)

type stubReflector struct {
	fn func(ctx context.Context, bank, query string) (ReflectResult, error)

	gotTags     []string
	gotTagMatch engine.TagMatch
}

func (r *stubReflector) Reflect(ctx context.Context, bank, query string, tags []string, tagMatch engine.TagMatch, _ []string, _ int) (ReflectResult, error) {
	r.gotTags = tags
	r.gotTagMatch = tagMatch
	if r.fn != nil {
		return r.fn(ctx, bank, query)
	}
	return ReflectResult{}, nil
}

func fixedNow() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

func newWorker(store *enginetest.Store, provider *enginetest.Provider) *Worker {
	return &Worker{
		Store:     store,
		Provider:  provider,
		Embedding: &enginetest.Embedding{},
		Now:       fixedNow,
	}
}

func TestConsolidateBankCreatesObservationFromNewFact(t *testing.T) {
	store := enginetest.New()
	provider := &enginetest.Provider{
		ChatFn: func(ctx context.Context, req engine.ChatRequest) (engine.ChatResponse, error) {
			return engine.ChatResponse{Content: `[{"action":"create","text":"Alice prefers tea over coffee"}]`}, nil
		},
	}
	require.NoError(t, store.InsertUnit(context.Background(), engine.MemoryUnit{
		ID:        "fact-1",
		Bank:      "bank-a",
		Text:      "Alice ordered tea instead of her usual coffee",
		FactType:  engine.FactWorld,
		FactKind:  engine.KindEvent,
		CreatedAt: fixedNow().Unix(),
	}))

	w := newWorker(store, provider)
	result, err := w.consolidateBank(context.Background(), "bank-a")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Created)

	fact, err := store.GetUnit(context.Background(), "bank-a", "fact-1")
	require.NoError(t, err)
	require.NotNil(t, fact.ConsolidatedAt)

	observations, err := store.ListObservations(context.Background(), "bank-a")
	require.NoError(t, err)
	require.Len(t, observations, 1)
	assert.Equal(t, "Alice prefers tea over coffee", observations[0].Text)
	assert.Equal(t, []string{"fact-1"}, observations[0].SourceMemoryIDs)
	assert.Equal(t, engine.FreshnessNew, observations[0].FreshnessStatus)
}

func TestConsolidateBankSkipsWhenNoDurableKnowledge(t *testing.T) {
	store := enginetest.New()
	provider := &enginetest.Provider{
		ChatFn: func(ctx context.Context, req engine.ChatRequest) (engine.ChatResponse, error) {
			return engine.ChatResponse{Content: `[]`}, nil
		},
	}
	require.NoError(t, store.InsertUnit(context.Background(), engine.MemoryUnit{
		ID:        "fact-1",
		Bank:      "bank-a",
		Text:      "It is raining today",
		FactType:  engine.FactWorld,
		CreatedAt: fixedNow().Unix(),
	}))

	w := newWorker(store, provider)
	result, err := w.consolidateBank(context.Background(), "bank-a")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Skipped)

	observations, err := store.ListObservations(context.Background(), "bank-a")
	require.NoError(t, err)
	assert.Empty(t, observations)
}

func TestConsolidateBankLeavesFactUnconsolidatedOnAdjudicationError(t *testing.T) {
	store := enginetest.New()
	provider := &enginetest.Provider{
		ChatFn: func(ctx context.Context, req engine.ChatRequest) (engine.ChatResponse, error) {
			return engine.ChatResponse{}, assertErr{}
		},
	}
	require.NoError(t, store.InsertUnit(context.Background(), engine.MemoryUnit{
		ID:        "fact-1",
		Bank:      "bank-a",
		Text:      "some fact",
		FactType:  engine.FactWorld,
		CreatedAt: fixedNow().Unix(),
	}))

	w := newWorker(store, provider)
	result, err := w.consolidateBank(context.Background(), "bank-a")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)

	fact, err := store.GetUnit(context.Background(), "bank-a", "fact-1")
	require.NoError(t, err)
	assert.Nil(t, fact.ConsolidatedAt)
}

func TestConsolidateBankEmptyBatchIsNoop(t *testing.T) {
	store := enginetest.New()
	w := newWorker(store, &enginetest.Provider{})
	result, err := w.consolidateBank(context.Background(), "bank-a")
	require.NoError(t, err)
	assert.Equal(t, BankResult{}, result)
}

func TestTriggerConsolidationProcessesEveryBank(t *testing.T) {
	store := enginetest.New()
	provider := &enginetest.Provider{
		ChatFn: func(ctx context.Context, req engine.ChatRequest) (engine.ChatResponse, error) {
			return engine.ChatResponse{Content: `[{"action":"create","text":"a durable fact"}]`}, nil
		},
	}
	require.NoError(t, store.InsertUnit(context.Background(), engine.MemoryUnit{
		ID: "f1", Bank: "bank-a", Text: "fact one", FactType: engine.FactWorld, CreatedAt: fixedNow().Unix(),
	}))
	require.NoError(t, store.InsertUnit(context.Background(), engine.MemoryUnit{
		ID: "f2", Bank: "bank-b", Text: "fact two", FactType: engine.FactWorld, CreatedAt: fixedNow().Unix(),
	}))

	w := newWorker(store, provider)
	result, err := w.TriggerConsolidation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.BanksProcessed)
	assert.Equal(t, 2, result.TotalProcessed)
	assert.Len(t, result.Results, 2)
}

func TestUpdateObservationAppendsHistoryAndExtendsSources(t *testing.T) {
	store := enginetest.New()
	require.NoError(t, store.InsertUnit(context.Background(), engine.MemoryUnit{
		ID:              "obs-1",
		Bank:            "bank-a",
		Text:            "Alice lives in Tokyo",
		FactType:        engine.FactObservation,
		SourceMemoryIDs: []string{"fact-0"},
		ProofCount:      1,
		CreatedAt:       fixedNow().Unix(),
		Embedding:       []float32{1, 0, 0, 0},
	}))
	provider := &enginetest.Provider{
		ChatFn: func(ctx context.Context, req engine.ChatRequest) (engine.ChatResponse, error) {
			return engine.ChatResponse{Content: `[{"action":"update","learning_id":"obs-1","text":"Alice moved to Osaka","reason":"relocated"}]`}, nil
		},
	}
	require.NoError(t, store.InsertUnit(context.Background(), engine.MemoryUnit{
		ID:        "fact-1",
		Bank:      "bank-a",
		Text:      "Alice says she moved to Osaka",
		FactType:  engine.FactWorld,
		CreatedAt: fixedNow().Unix(),
	}))

	w := newWorker(store, provider)
	w.Embedding = &enginetest.Embedding{
		EmbedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i := range texts {
				out[i] = []float32{1, 0, 0, 0}
			}
			return out, nil
		},
	}
	result, err := w.consolidateBank(context.Background(), "bank-a")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	obs, err := store.GetUnit(context.Background(), "bank-a", "obs-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice moved to Osaka", obs.Text)
	assert.Equal(t, 2, obs.ProofCount)
	require.Len(t, obs.History, 1)
	assert.Equal(t, "Alice lives in Tokyo", obs.History[0].PreviousText)
	assert.ElementsMatch(t, []string{"fact-0", "fact-1"}, obs.SourceMemoryIDs)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
