package recall

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	engine "github.com/membank/engine"
)

const rerankTopN = 300

// rerankString builds the cross-encoder document string for one unit: a
// date prefix only when occurred_start is known (§4.2 step 6).
func rerankString(u engine.MemoryUnit) string {
	if u.OccurredStart != nil {
		date := time.Unix(*u.OccurredStart, 0).UTC().Format("2006-01-02")
		return fmt.Sprintf("[Date: %s] context: %s", date, rerankBody(u))
	}
	return fmt.Sprintf("context: %s", rerankBody(u))
}

func rerankBody(u engine.MemoryUnit) string {
	if u.Context != "" {
		return u.Context + " " + u.Text
	}
	return u.Text
}

// ceScore attaches a cross-encoder score to each of the top rerankTopN
// fused candidates; on reranker failure it returns a nil map, which
// scoreFinal treats as the fall-back to RRF order (§4.2 step 6).
func ceScore(ctx context.Context, reranker engine.Reranker, query string, units []engine.ScoredUnit, logger *slog.Logger) map[string]float32 {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	scored := units
	if len(scored) > rerankTopN {
		scored = scored[:rerankTopN]
	}
	if len(scored) == 0 || reranker == nil {
		return nil
	}

	docs := make([]string, len(scored))
	for i, u := range scored {
		docs[i] = rerankString(u.MemoryUnit)
	}

	ranked, err := reranker.Rerank(ctx, query, docs)
	if err != nil {
		logger.Warn("recall: rerank failed, falling back to RRF order", "err", err)
		return nil
	}

	out := make(map[string]float32, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(scored) {
			continue
		}
		out[scored[r.Index].ID] = r.Score
	}
	return out
}
