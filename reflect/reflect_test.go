package reflect

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/membank/engine"
	"github.com/membank/engine/internal/enginetest"
)

func newReflector(store *enginetest.Store, provider *enginetest.Provider) *Reflector {
	return &Reflector{
		Store:     store,
		Embedding: &enginetest.Embedding{},
		Provider:  provider,
	}
}

func toolCall(id, name string, input any) engine.ToolUse {
	enc, _ := json.Marshal(input)
	return engine.ToolUse{ToolUseID: id, Name: name, Input: enc}
}

func TestReflectReturnsAnswerAfterGatheringEvidence(t *testing.T) {
	store := enginetest.New()
	require.NoError(t, store.InsertUnit(context.Background(), engine.MemoryUnit{
		ID: "obs-1", Bank: "bank-a", Text: "Alice prefers tea", FactType: engine.FactObservation,
		Embedding: []float32{1, 0, 0, 0},
	}))

	var call int
	provider := &enginetest.Provider{
		ChatWithToolsFn: func(ctx context.Context, req engine.ChatRequest, tools []engine.ToolDefinition) (engine.ChatResponse, error) {
			call++
			switch call {
			case 1:
				return engine.ChatResponse{
					StopReason: engine.StopToolUse,
					ToolCalls:  []engine.ToolUse{toolCall("t1", toolSearchObservations, map[string]any{"query": "Alice drink preference"})},
				}, nil
			default:
				return engine.ChatResponse{
					StopReason: engine.StopToolUse,
					ToolCalls: []engine.ToolUse{toolCall("t2", toolDone, map[string]any{
						"answer":           "Alice prefers tea.",
						"memory_ids":       []string{},
						"mental_model_ids": []string{},
						"observation_ids":  []string{"obs-1"},
					})},
				}, nil
			}
		},
	}

	w := newReflector(store, provider)
	w.Embedding = &enginetest.Embedding{EmbedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0, 0, 0}
		}
		return out, nil
	}}

	result, err := w.Reflect(context.Background(), "bank-a", "What does Alice drink?", nil, engine.TagMatchAny, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, "Alice prefers tea.", result.Answer)
	assert.Equal(t, []string{"obs-1"}, result.ObservationIDs)
	assert.Equal(t, 2, result.Iterations)
}

func TestReflectRejectsEmptyEvidenceDoneBeforeLastIteration(t *testing.T) {
	store := enginetest.New()
	var call int
	provider := &enginetest.Provider{
		ChatWithToolsFn: func(ctx context.Context, req engine.ChatRequest, tools []engine.ToolDefinition) (engine.ChatResponse, error) {
			call++
			if call == 1 {
				return engine.ChatResponse{
					StopReason: engine.StopToolUse,
					ToolCalls: []engine.ToolUse{toolCall("t1", toolDone, map[string]any{
						"answer": "I don't know.", "memory_ids": []string{}, "mental_model_ids": []string{}, "observation_ids": []string{},
					})},
				}, nil
			}
			return engine.ChatResponse{StopReason: engine.StopEndTurn, Content: "Gave up after being pushed to search."}, nil
		},
	}

	w := newReflector(store, provider)
	result, err := w.Reflect(context.Background(), "bank-a", "anything?", nil, engine.TagMatchAny, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, "Gave up after being pushed to search.", result.Answer)
	assert.Equal(t, 2, call)
}

func TestReflectAllowsEmptyEvidenceDoneOnLastIteration(t *testing.T) {
	store := enginetest.New()
	provider := &enginetest.Provider{
		ChatWithToolsFn: func(ctx context.Context, req engine.ChatRequest, tools []engine.ToolDefinition) (engine.ChatResponse, error) {
			return engine.ChatResponse{
				StopReason: engine.StopToolUse,
				ToolCalls: []engine.ToolUse{toolCall("t1", toolDone, map[string]any{
					"answer": "No evidence found.", "memory_ids": []string{}, "mental_model_ids": []string{}, "observation_ids": []string{},
				})},
			}, nil
		},
	}

	w := newReflector(store, provider)
	result, err := w.Reflect(context.Background(), "bank-a", "anything?", nil, engine.TagMatchAny, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "No evidence found.", result.Answer)
}

func TestReflectDropsIDsNotSurfacedByAnyTool(t *testing.T) {
	store := enginetest.New()
	require.NoError(t, store.InsertUnit(context.Background(), engine.MemoryUnit{
		ID: "obs-1", Bank: "bank-a", Text: "real observation", FactType: engine.FactObservation,
		Embedding: []float32{1, 0, 0, 0},
	}))

	var call int
	provider := &enginetest.Provider{
		ChatWithToolsFn: func(ctx context.Context, req engine.ChatRequest, tools []engine.ToolDefinition) (engine.ChatResponse, error) {
			call++
			if call == 1 {
				return engine.ChatResponse{
					StopReason: engine.StopToolUse,
					ToolCalls:  []engine.ToolUse{toolCall("t1", toolSearchObservations, map[string]any{"query": "x"})},
				}, nil
			}
			return engine.ChatResponse{
				StopReason: engine.StopToolUse,
				ToolCalls: []engine.ToolUse{toolCall("t2", toolDone, map[string]any{
					"answer":           "answer",
					"memory_ids":       []string{},
					"mental_model_ids": []string{},
					"observation_ids":  []string{"obs-1", "hallucinated-id"},
				})},
			}, nil
		},
	}

	w := newReflector(store, provider)
	w.Embedding = &enginetest.Embedding{EmbedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0, 0, 0}
		}
		return out, nil
	}}

	result, err := w.Reflect(context.Background(), "bank-a", "query", nil, engine.TagMatchAny, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"obs-1"}, result.ObservationIDs)
}

func TestReflectExhaustsIterationsAndReturnsGatheredIDs(t *testing.T) {
	store := enginetest.New()
	require.NoError(t, store.InsertUnit(context.Background(), engine.MemoryUnit{
		ID: "obs-1", Bank: "bank-a", Text: "observation", FactType: engine.FactObservation,
		Embedding: []float32{1, 0, 0, 0},
	}))

	provider := &enginetest.Provider{
		ChatWithToolsFn: func(ctx context.Context, req engine.ChatRequest, tools []engine.ToolDefinition) (engine.ChatResponse, error) {
			return engine.ChatResponse{
				StopReason: engine.StopToolUse,
				ToolCalls:  []engine.ToolUse{toolCall("t", toolSearchObservations, map[string]any{"query": "x"})},
			}, nil
		},
	}

	w := newReflector(store, provider)
	w.Embedding = &enginetest.Embedding{EmbedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0, 0, 0}
		}
		return out, nil
	}}

	result, err := w.Reflect(context.Background(), "bank-a", "query", nil, engine.TagMatchAny, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, []string{"obs-1"}, result.ObservationIDs)
}

func TestBuildSystemPromptIncludesDirectivesAndExtremeDisposition(t *testing.T) {
	bank := engine.Bank{
		Directives:  []string{"Never diagnose medical conditions."},
		Disposition: [3]int{5, 1, 3},
	}
	prompt := buildSystemPrompt(bank)
	assert.Contains(t, prompt, "必須")
	assert.Contains(t, prompt, "Never diagnose medical conditions.")
	assert.Contains(t, prompt, "skeptically")
	assert.Contains(t, prompt, "Read between the lines", "literalism=1 should emit the low-literalism guidance")
}

func TestBuildSystemPromptOmitsDirectiveSectionWhenNone(t *testing.T) {
	prompt := buildSystemPrompt(engine.Bank{Disposition: [3]int{3, 3, 3}})
	assert.NotContains(t, prompt, "必須")
}
