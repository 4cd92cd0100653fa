package retain

import (
	"context"
	"fmt"

	engine "github.com/membank/engine"
	"github.com/membank/engine/internal/concurrency"
)

// maxConcurrentEmbeds is the cap on outbound embedding requests per Retain
// call (§4.1 step 2, §5).
const maxConcurrentEmbeds = 5

// embeddingText builds the text submitted for embedding: the fact text plus
// a date suffix when event_date is known, so near-duplicate facts on
// different dates embed distinctly (§4.1 step 2).
func embeddingText(u engine.MemoryUnit) string {
	if u.EventDate != nil {
		return engine.TruncateForEmbedding(fmt.Sprintf("%s (happened on %s)", u.Text, dateOnly(*u.EventDate)))
	}
	return engine.TruncateForEmbedding(u.Text)
}

// embedFacts generates embeddings for each unit's embedding text, at most
// maxConcurrentEmbeds concurrent requests.
func embedFacts(ctx context.Context, emb engine.EmbeddingProvider, units []engine.MemoryUnit) ([]engine.MemoryUnit, error) {
	if len(units) == 0 {
		return nil, nil
	}
	vectors, err := concurrency.MapLimit(ctx, units, maxConcurrentEmbeds, func(ctx context.Context, u engine.MemoryUnit) ([]float32, error) {
		out, err := emb.Embed(ctx, []string{embeddingText(u)})
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("retain: embedding provider returned no vectors")
		}
		return out[0], nil
	})
	if err != nil {
		return nil, err
	}
	for i := range units {
		units[i].Embedding = vectors[i]
	}
	return units, nil
}
