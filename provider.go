package engine

import "context"

// Provider abstracts the LLM backend used by the extractor, consolidator,
// and reflector (§6's LLM contract). Implementations are process-wide
// singletons built lazily under a lock, per §5.
type Provider interface {
	// Chat sends a request and returns a complete text response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatWithTools sends a request with a tool palette; the response may
	// carry ToolCalls (StopReason == StopToolUse) or a terminal text reply.
	ChatWithTools(ctx context.Context, req ChatRequest, tools []ToolDefinition) (ChatResponse, error)
	// Name returns the provider name, used in log lines and ErrLLM.
	Name() string
}

// EmbeddingProvider abstracts text embedding (§6). Embed returns L2-normalised
// vectors; callers truncate text to 24000 characters before submission.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size (1024 per §3).
	Dimensions() int
	Name() string
}

// Reranker scores (query, document) pairs with a cross-encoder model (§6).
// The returned slice is ordered arbitrarily; callers key results by Index.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]RankedDocument, error)
	Name() string
}

// maxEmbedTextChars is the text truncation limit before submission (§6).
const maxEmbedTextChars = 24000

// TruncateForEmbedding trims text to the embedding provider's character
// budget, preferring to cut on a rune boundary. Every pipeline that submits
// caller-controlled text to an EmbeddingProvider calls this first (§6).
func TruncateForEmbedding(text string) string {
	r := []rune(text)
	if len(r) <= maxEmbedTextChars {
		return text
	}
	return string(r[:maxEmbedTextChars])
}
