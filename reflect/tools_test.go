package reflect

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/membank/engine"
	"github.com/membank/engine/internal/enginetest"
)

func TestToolRunnerExpandReturnsChunksAndFields(t *testing.T) {
	store := enginetest.New()
	ctx := context.Background()
	require.NoError(t, store.InsertUnit(ctx, engine.MemoryUnit{
		ID: "u1", Bank: "bank-a", Text: "fact text", What: "thing happened",
	}))
	store.Chunks["u1"] = []engine.Chunk{{MemoryUnitID: "u1", ChunkIndex: 0, Text: "chunk one"}}

	runner := &toolRunner{store: store, embedding: &enginetest.Embedding{}, bank: "bank-a", available: newAvailableIDs()}
	args, _ := json.Marshal(map[string]any{"memory_ids": []string{"u1"}})
	out, err := runner.expand(ctx, args)
	require.NoError(t, err)
	assert.Contains(t, out, "chunk one")
	assert.Contains(t, out, "thing happened")
}

func TestToolRunnerExpandCapsToTenIDs(t *testing.T) {
	store := enginetest.New()
	ctx := context.Background()
	ids := make([]string, 15)
	for i := range ids {
		ids[i] = engine.NewID()
		require.NoError(t, store.InsertUnit(ctx, engine.MemoryUnit{ID: ids[i], Bank: "bank-a", Text: "t"}))
	}
	runner := &toolRunner{store: store, embedding: &enginetest.Embedding{}, bank: "bank-a", available: newAvailableIDs()}
	args, _ := json.Marshal(map[string]any{"memory_ids": ids})
	out, err := runner.expand(ctx, args)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Equal(t, 10, strings.Count(out, "\n"))
}

func TestClampUsesDefaultWhenZeroOrOverMax(t *testing.T) {
	assert.Equal(t, 20, clamp(0, 20))
	assert.Equal(t, 20, clamp(500, 20))
	assert.Equal(t, 5, clamp(5, 20))
}

func TestSearchObservationsTracksAvailableIDs(t *testing.T) {
	store := enginetest.New()
	ctx := context.Background()
	require.NoError(t, store.InsertUnit(ctx, engine.MemoryUnit{
		ID: "obs-1", Bank: "bank-a", Text: "durable fact", FactType: engine.FactObservation,
		Embedding: []float32{1, 0, 0, 0},
	}))

	runner := &toolRunner{
		store: store,
		embedding: &enginetest.Embedding{EmbedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{{1, 0, 0, 0}}, nil
		}},
		bank:      "bank-a",
		available: newAvailableIDs(),
	}
	args, _ := json.Marshal(map[string]any{"query": "durable fact"})
	_, err := runner.searchObservations(ctx, args)
	require.NoError(t, err)
	assert.True(t, runner.available.observation["obs-1"])
}
