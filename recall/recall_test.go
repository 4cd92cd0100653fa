package recall

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	engine "github.com/membank/engine"
	"github.com/membank/engine/internal/enginetest"
)

func fixedNow() time.Time {
	return time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC)
}

func newRecaller(store *enginetest.Store, embed *enginetest.Embedding, reranker *enginetest.Reranker) *Recaller {
	return &Recaller{
		Store:     store,
		Embedding: embed,
		Reranker:  reranker,
		Now:       fixedNow,
	}
}

func putUnit(t *testing.T, ctx context.Context, store *enginetest.Store, embed *enginetest.Embedding, bank, text string, createdAt int64) engine.MemoryUnit {
	t.Helper()
	vecs, err := embed.Embed(ctx, []string{text})
	require.NoError(t, err)
	u := engine.MemoryUnit{
		ID:        engine.NewID(),
		Bank:      bank,
		Text:      text,
		FactType:  engine.FactWorld,
		Embedding: vecs[0],
		CreatedAt: createdAt,
	}
	require.NoError(t, store.InsertUnit(ctx, u))
	return u
}

func TestRecallReturnsSemanticMatches(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	embed := &enginetest.Embedding{}
	u := putUnit(t, context.Background(), store, embed, bank, "Alice loves hiking in the mountains", fixedNow().Unix())

	r := newRecaller(store, embed, &enginetest.Reranker{})
	res, err := r.Recall(context.Background(), bank, "Alice loves hiking in the mountains", BudgetMid)
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Returned, 1)

	var found bool
	for _, m := range res.Memories {
		if m.ID == u.ID {
			found = true
		}
	}
	require.True(t, found)
}

func TestRecallValidatesBankID(t *testing.T) {
	store := enginetest.New()
	r := newRecaller(store, &enginetest.Embedding{}, &enginetest.Reranker{})

	_, err := r.Recall(context.Background(), "not-a-uuid", "hello", BudgetMid)
	require.Error(t, err)
	var verr *engine.ErrValidation
	require.ErrorAs(t, err, &verr)
}

func TestRecallValidatesBudget(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	r := newRecaller(store, &enginetest.Embedding{}, &enginetest.Reranker{})

	_, err := r.Recall(context.Background(), bank, "hello", Budget("extreme"))
	require.Error(t, err)
}

func TestRecallEmbeddingFailureReturnsEmpty(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	embed := &enginetest.Embedding{
		EmbedFn: func(context.Context, []string) ([][]float32, error) {
			return nil, assertErr{}
		},
	}
	r := newRecaller(store, embed, &enginetest.Reranker{})

	res, err := r.Recall(context.Background(), bank, "hello", BudgetMid)
	require.NoError(t, err)
	require.Equal(t, 0, res.Returned)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestRecallRerankFailureFallsBackToRRFOrder(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	embed := &enginetest.Embedding{}
	putUnit(t, context.Background(), store, embed, bank, "Bob plays the guitar every evening", fixedNow().Unix())

	reranker := &enginetest.Reranker{
		RerankFn: func(context.Context, string, []string) ([]engine.RankedDocument, error) {
			return nil, assertErr{}
		},
	}
	r := newRecaller(store, embed, reranker)

	res, err := r.Recall(context.Background(), bank, "Bob plays the guitar every evening", BudgetMid)
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Returned, 1)
}

func TestRecallTrimsToTokenBudget(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	embed := &enginetest.Embedding{}
	longText := ""
	for i := 0; i < 5000; i++ {
		longText += "x"
	}
	for i := 0; i < 5; i++ {
		putUnit(t, context.Background(), store, embed, bank, longText+string(rune('a'+i)), fixedNow().Unix())
	}

	r := newRecaller(store, embed, &enginetest.Reranker{})
	res, err := r.Recall(context.Background(), bank, longText+"a", BudgetLow)
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Returned, 1)
	require.Less(t, res.Returned, 5)
}

func TestExtractKeywordsStripsJapaneseParticles(t *testing.T) {
	keywords := extractKeywords("太郎についてはピザが好き")
	require.Contains(t, keywords, "太郎")
	require.Contains(t, keywords, "ピザ")
}

func TestExtractTimeRangeYesterday(t *testing.T) {
	now := fixedNow().Unix()
	window, ok := extractTimeRange("what happened yesterday?", now)
	require.True(t, ok)
	require.Less(t, window.Start, now)
	require.LessOrEqual(t, window.End, now)
}

func TestExtractTimeRangeNoMatch(t *testing.T) {
	_, ok := extractTimeRange("what is Alice's favorite food?", fixedNow().Unix())
	require.False(t, ok)
}

func TestFuseRRFCombinesLists(t *testing.T) {
	scores := fuseRRF(rankedList{"a", "b"}, rankedList{"b", "c"})
	require.Greater(t, scores["b"], scores["a"])
	require.Greater(t, scores["b"], scores["c"])
}
