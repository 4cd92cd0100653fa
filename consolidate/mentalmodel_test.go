package consolidate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/membank/engine"
	"github.com/membank/engine/internal/enginetest"
)

func TestRefreshTriggeredModelsUpdatesContent(t *testing.T) {
	store := enginetest.New()
	require.NoError(t, store.InsertMentalModel(context.Background(), engine.MentalModel{
		ID:          "model-1",
		Bank:        "bank-a",
		Name:        "Alice",
		Content:     "stale summary",
		SourceQuery: "Alice について教えてください",
		Trigger:     engine.MentalModelTrigger{RefreshAfterConsolidation: true},
	}))

	w := newWorker(store, &enginetest.Provider{})
	w.Reflector = &stubReflector{fn: func(ctx context.Context, bank, query string) (ReflectResult, error) {
		return ReflectResult{
			Answer:         "Alice has lived in Tokyo for three years and works as a designer, meeting regularly with her team.",
			ObservationIDs: []string{"obs-1"},
		}, nil
	}}

	w.refreshTriggeredModels(context.Background(), "bank-a", fixedNow().Unix())

	model, ok, err := store.GetMentalModelByEntity(context.Background(), "bank-a", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, model.Content, "designer")
	assert.Equal(t, []string{"obs-1"}, model.SourceObservationIDs)
}

func TestRefreshTriggeredModelsUsesStrictTagMatchWhenTagged(t *testing.T) {
	store := enginetest.New()
	require.NoError(t, store.InsertMentalModel(context.Background(), engine.MentalModel{
		ID:          "model-1",
		Bank:        "bank-a",
		Name:        "Alice",
		Content:     "stale summary",
		SourceQuery: "Alice について教えてください",
		Tags:        []string{"private"},
		Trigger:     engine.MentalModelTrigger{RefreshAfterConsolidation: true},
	}))

	w := newWorker(store, &enginetest.Provider{})
	reflector := &stubReflector{fn: func(ctx context.Context, bank, query string) (ReflectResult, error) {
		return ReflectResult{Answer: "Alice has lived in Tokyo for three years and works as a designer."}, nil
	}}
	w.Reflector = reflector

	w.refreshTriggeredModels(context.Background(), "bank-a", fixedNow().Unix())

	assert.Equal(t, engine.TagMatchAllStrict, reflector.gotTagMatch, "a tagged model must refresh with all_strict, never leaking across the tag boundary")
	assert.Equal(t, []string{"private"}, reflector.gotTags)
}

func TestRefreshTriggeredModelsUsesAnyTagMatchWhenUntagged(t *testing.T) {
	store := enginetest.New()
	require.NoError(t, store.InsertMentalModel(context.Background(), engine.MentalModel{
		ID:          "model-1",
		Bank:        "bank-a",
		Name:        "Alice",
		Content:     "stale summary",
		SourceQuery: "Alice について教えてください",
		Trigger:     engine.MentalModelTrigger{RefreshAfterConsolidation: true},
	}))

	w := newWorker(store, &enginetest.Provider{})
	reflector := &stubReflector{fn: func(ctx context.Context, bank, query string) (ReflectResult, error) {
		return ReflectResult{Answer: "Alice has lived in Tokyo for three years and works as a designer."}, nil
	}}
	w.Reflector = reflector

	w.refreshTriggeredModels(context.Background(), "bank-a", fixedNow().Unix())

	assert.Equal(t, engine.TagMatchAny, reflector.gotTagMatch)
}

func TestRefreshTriggeredModelsDiscardsShortAnswers(t *testing.T) {
	store := enginetest.New()
	require.NoError(t, store.InsertMentalModel(context.Background(), engine.MentalModel{
		ID:      "model-1",
		Bank:    "bank-a",
		Name:    "Alice",
		Content: "original",
		Trigger: engine.MentalModelTrigger{RefreshAfterConsolidation: true},
	}))

	w := newWorker(store, &enginetest.Provider{})
	w.Reflector = &stubReflector{fn: func(ctx context.Context, bank, query string) (ReflectResult, error) {
		return ReflectResult{Answer: "too short"}, nil
	}}

	w.refreshTriggeredModels(context.Background(), "bank-a", fixedNow().Unix())

	got, ok, err := store.GetMentalModelByEntity(context.Background(), "bank-a", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "original", got.Content)
}

func TestAutoGenerateModelsCreatesModelForQualifyingEntity(t *testing.T) {
	store := enginetest.New()
	ctx := context.Background()

	_, resolved, err := store.PersistFact(ctx, engine.MemoryUnit{Bank: "bank-a", FactType: engine.FactObservation, Text: "obs"}, []string{"Bob"}, nil, fixedNow().Unix())
	require.NoError(t, err)
	entityID := resolved["Bob"]

	var ids []string
	for i := 0; i < autoGenMinObservations; i++ {
		id := engine.NewID()
		require.NoError(t, store.InsertUnit(ctx, engine.MemoryUnit{
			ID:       id,
			Bank:     "bank-a",
			Text:     "observation about bob",
			FactType: engine.FactObservation,
		}))
		require.NoError(t, store.InsertUnitEntities(ctx, []engine.UnitEntity{{UnitID: id, EntityID: entityID}}))
		ids = append(ids, id)
	}

	w := newWorker(store, &enginetest.Provider{})
	w.Reflector = &stubReflector{fn: func(ctx context.Context, bank, query string) (ReflectResult, error) {
		return ReflectResult{
			Answer:         "Bob is a recurring collaborator who has contributed to five separate observations about the project.",
			ObservationIDs: ids,
		}, nil
	}}

	bankRecord := engine.Bank{ID: "bank-a"}
	w.autoGenerateModels(ctx, "bank-a", bankRecord, map[string]bool{entityID: true}, fixedNow().Unix())

	model, ok, err := store.GetMentalModelByEntity(ctx, "bank-a", entityID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bob", model.Name)
	assert.Contains(t, model.Content, "collaborator")
}

func TestAutoGenerateModelsSkipsEntityBelowThreshold(t *testing.T) {
	store := enginetest.New()
	ctx := context.Background()
	_, resolved, err := store.PersistFact(ctx, engine.MemoryUnit{Bank: "bank-a", FactType: engine.FactObservation, Text: "obs"}, []string{"Carol"}, nil, fixedNow().Unix())
	require.NoError(t, err)
	entityID := resolved["Carol"]

	w := newWorker(store, &enginetest.Provider{})
	w.Reflector = &stubReflector{}

	w.autoGenerateModels(ctx, "bank-a", engine.Bank{ID: "bank-a"}, map[string]bool{entityID: true}, fixedNow().Unix())

	_, ok, err := store.GetMentalModelByEntity(ctx, "bank-a", entityID)
	require.NoError(t, err)
	assert.False(t, ok)
}
