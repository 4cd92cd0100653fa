package retain

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

func newRetainer(store *enginetest.Store, provider *enginetest.Provider, embed *enginetest.Embedding) *Retainer {
	return &Retainer{
		Store:     store,
		Provider:  provider,
		Embedding: embed,
		Now:       fixedNow,
	}
}

func TestRetainStoresExtractedFacts(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	provider := &enginetest.Provider{
		ChatFn: func(_ context.Context, _ engine.ChatRequest) (engine.ChatResponse, error) {
			return engine.ChatResponse{Content: `[
				{"what":"Alice got a promotion","who":["Alice"],"when_desc":"at lunch","where_desc":"","why_desc":"","text":"Alice got a promotion and talked about it at lunch","fact_kind":"event","event_date":"2024-06-15"}
			]`}, nil
		},
	}
	r := newRetainer(store, provider, &enginetest.Embedding{})

	res, err := r.Retain(context.Background(), bank, "Alice talked about her promotion at lunch", "")
	require.NoError(t, err)
	require.Equal(t, 1, res.Stored)
	require.Equal(t, 0, res.Duplicates)
	require.Len(t, res.FactIDs, 1)

	unit, err := store.GetUnit(context.Background(), bank, res.FactIDs[0])
	require.NoError(t, err)
	require.Equal(t, engine.KindEvent, unit.FactKind)
	require.NotNil(t, unit.EventDate)
	require.Contains(t, unit.Who, "Alice")

	entityIDs, err := store.GetEntityIDsForUnit(context.Background(), bank, unit.ID)
	require.NoError(t, err)
	require.Len(t, entityIDs, 1)
}

func TestRetainDiscardsMalformedFacts(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	provider := &enginetest.Provider{
		ChatFn: func(_ context.Context, _ engine.ChatRequest) (engine.ChatResponse, error) {
			// Second fact has an invalid fact_kind and must be dropped.
			return engine.ChatResponse{Content: `[
				{"text":"valid fact","fact_kind":"conversation"},
				{"text":"invalid fact","fact_kind":"bogus"}
			]`}, nil
		},
	}
	r := newRetainer(store, provider, &enginetest.Embedding{})

	res, err := r.Retain(context.Background(), bank, "some conversation", "")
	require.NoError(t, err)
	require.Equal(t, 1, res.Stored)
}

func TestRetainExtractorFailureYieldsZeroStored(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	provider := &enginetest.Provider{
		ChatFn: func(_ context.Context, _ engine.ChatRequest) (engine.ChatResponse, error) {
			return engine.ChatResponse{}, assertErr{}
		},
	}
	r := newRetainer(store, provider, &enginetest.Embedding{})

	res, err := r.Retain(context.Background(), bank, "some conversation", "")
	require.NoError(t, err)
	require.Equal(t, 0, res.Stored)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestRetainEmbeddingFailureSurfacesError(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	provider := &enginetest.Provider{
		ChatFn: func(_ context.Context, _ engine.ChatRequest) (engine.ChatResponse, error) {
			return engine.ChatResponse{Content: `[{"text":"a fact","fact_kind":"conversation"}]`}, nil
		},
	}
	embed := &enginetest.Embedding{
		EmbedFn: func(_ context.Context, _ []string) ([][]float32, error) {
			return nil, assertErr{}
		},
	}
	r := newRetainer(store, provider, embed)

	_, err := r.Retain(context.Background(), bank, "some conversation", "")
	require.Error(t, err)
}

func TestRetainDedupesRepeatedConversationFact(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	provider := &enginetest.Provider{
		ChatFn: func(_ context.Context, _ engine.ChatRequest) (engine.ChatResponse, error) {
			return engine.ChatResponse{Content: `[{"text":"太郎はピザが好き","fact_kind":"conversation"}]`}, nil
		},
	}
	r := newRetainer(store, provider, &enginetest.Embedding{})

	first, err := r.Retain(context.Background(), bank, "太郎はピザが好きだと言った", "")
	require.NoError(t, err)
	require.Equal(t, 1, first.Stored)

	second, err := r.Retain(context.Background(), bank, "太郎はピザが好きだと言った", "")
	require.NoError(t, err)
	require.Equal(t, 0, second.Stored)
	require.Equal(t, 1, second.Duplicates)
}

func TestRetainValidatesBankID(t *testing.T) {
	store := enginetest.New()
	r := newRetainer(store, &enginetest.Provider{}, &enginetest.Embedding{})

	_, err := r.Retain(context.Background(), "not-a-uuid", "hello world", "")
	require.Error(t, err)
	var verr *engine.ErrValidation
	require.ErrorAs(t, err, &verr)
}

func TestRetainValidatesContentLength(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	r := newRetainer(store, &enginetest.Provider{}, &enginetest.Embedding{})

	_, err := r.Retain(context.Background(), bank, "", "")
	require.Error(t, err)
}

func TestRetainBuildsGraphLinks(t *testing.T) {
	bank := uuid.NewString()
	store := enginetest.New()
	provider := &enginetest.Provider{
		ChatFn: func(_ context.Context, _ engine.ChatRequest) (engine.ChatResponse, error) {
			return engine.ChatResponse{Content: `[
				{"text":"Alice joined the team","who":["Alice"],"fact_kind":"conversation"},
				{"text":"Alice led the project","who":["Alice"],"fact_kind":"conversation"}
			]`}, nil
		},
	}
	r := newRetainer(store, provider, &enginetest.Embedding{})

	res, err := r.Retain(context.Background(), bank, "conversation about Alice", "")
	require.NoError(t, err)
	require.Equal(t, 2, res.Stored)
	require.NotEmpty(t, store.Links)
}
