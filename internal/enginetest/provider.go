package enginetest

import (
	"context"

	engine "github.com/membank/engine"
)

// Provider is a scriptable engine.Provider fake.
type Provider struct {
	ChatFn          func(ctx context.Context, req engine.ChatRequest) (engine.ChatResponse, error)
	ChatWithToolsFn func(ctx context.Context, req engine.ChatRequest, tools []engine.ToolDefinition) (engine.ChatResponse, error)
}

func (p *Provider) Name() string { return "fake" }

func (p *Provider) Chat(ctx context.Context, req engine.ChatRequest) (engine.ChatResponse, error) {
	if p.ChatFn != nil {
		return p.ChatFn(ctx, req)
	}
	return engine.ChatResponse{Content: "[]", StopReason: engine.StopEndTurn}, nil
}

func (p *Provider) ChatWithTools(ctx context.Context, req engine.ChatRequest, tools []engine.ToolDefinition) (engine.ChatResponse, error) {
	if p.ChatWithToolsFn != nil {
		return p.ChatWithToolsFn(ctx, req, tools)
	}
	return engine.ChatResponse{StopReason: engine.StopEndTurn}, nil
}

var _ engine.Provider = (*Provider)(nil)

// Embedding is a scriptable engine.EmbeddingProvider fake. EmbedFn receives
// the submitted texts; when nil, Embed returns a fixed unit vector derived
// from a hash of each text's bytes, centred on zero so distinct texts get
// dissimilar vectors.
type Embedding struct {
	EmbedFn func(ctx context.Context, texts []string) ([][]float32, error)
	Dims    int
}

func (e *Embedding) Name() string { return "fake" }

func (e *Embedding) Dimensions() int {
	if e.Dims > 0 {
		return e.Dims
	}
	return 4
}

func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.EmbedFn != nil {
		return e.EmbedFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = fakeVector(t, e.Dimensions())
	}
	return out, nil
}

// fakeVector derives a deterministic unit vector from text, so equal texts
// produce equal (and therefore cosine-similar) embeddings without a real model.
func fakeVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	var h uint32 = 2166136261
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
		v[i%dims] += float32(h%1000)/1000 - 0.5
	}
	var norm float32
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	norm = sqrt32(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}

func sqrt32(x float32) float32 {
	if x == 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

var _ engine.EmbeddingProvider = (*Embedding)(nil)

// Reranker is a scriptable engine.Reranker fake; default is identity order.
type Reranker struct {
	RerankFn func(ctx context.Context, query string, documents []string) ([]engine.RankedDocument, error)
}

func (r *Reranker) Name() string { return "fake" }

func (r *Reranker) Rerank(ctx context.Context, query string, documents []string) ([]engine.RankedDocument, error) {
	if r.RerankFn != nil {
		return r.RerankFn(ctx, query, documents)
	}
	out := make([]engine.RankedDocument, len(documents))
	for i := range documents {
		out[i] = engine.RankedDocument{Index: i, Score: 1.0 / float32(i+1)}
	}
	return out, nil
}

var _ engine.Reranker = (*Reranker)(nil)
