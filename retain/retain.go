package retain

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	engine "github.com/membank/engine"
)

const (
	maxContentChars = 10000
	maxContextChars = 2000
)

// Result is the outcome of one Retain call (§6).
type Result struct {
	Stored     int
	Duplicates int
	FactIDs    []string
}

// Retainer runs the extract→embed→dedupe→persist→link pipeline (§4.1).
type Retainer struct {
	Store     engine.Store
	Provider  engine.Provider
	Embedding engine.EmbeddingProvider
	Tracer    engine.Tracer
	Logger    *slog.Logger

	// Now returns the current time; overridable for deterministic tests.
	Now func() time.Time
}

func (r *Retainer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Retainer) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

// Retain runs one retain(bank, content, context) call end-to-end (§4.1).
func (r *Retainer) Retain(ctx context.Context, bank, content, context_ string) (Result, error) {
	if _, err := uuid.Parse(bank); err != nil {
		return Result{}, &engine.ErrValidation{Field: "bank_id", Message: "must be a UUID"}
	}
	if n := utf8.RuneCountInString(content); n == 0 || n > maxContentChars {
		return Result{}, &engine.ErrValidation{Field: "content", Message: "must be 1-10000 characters"}
	}
	if utf8.RuneCountInString(context_) > maxContextChars {
		return Result{}, &engine.ErrValidation{Field: "context", Message: "must be at most 2000 characters"}
	}

	if r.Tracer != nil {
		var span engine.Span
		ctx, span = r.Tracer.Start(ctx, "retain", engine.StringAttr("bank", bank))
		defer span.End()
	}

	now := r.now()
	mentionedAt := now.Unix()

	facts, err := extractFacts(ctx, r.Provider, content, context_, now)
	if err != nil {
		// Extractor failure -> zero facts stored, not a pipeline error (§4.1 Failure semantics).
		r.logger().Warn("retain: extractor call failed", "bank", bank, "err", err)
		return Result{}, nil
	}

	var units []engine.MemoryUnit
	for _, f := range facts {
		u, ok := buildUnit(bank, f, context_, mentionedAt)
		if !ok {
			continue
		}
		units = append(units, u)
	}
	if len(units) == 0 {
		return Result{}, nil
	}

	units, err = embedFacts(ctx, r.Embedding, units)
	if err != nil {
		// Embedding failure -> caller error surfaced (§4.1 Failure semantics).
		return Result{}, err
	}

	var (
		stored     []linkUnit
		duplicates int
		factIDs    []string
	)
	for _, u := range units {
		dup, err := isDuplicate(ctx, r.Store, u)
		if err != nil {
			return Result{}, err
		}
		if dup {
			duplicates++
			continue
		}

		matched, created, err := scoreEntities(ctx, r.Store, bank, u.Who, u.EventDate)
		if err != nil {
			return Result{}, err
		}

		persisted, nameToID, err := r.Store.PersistFact(ctx, u, created, matched, mentionedAt)
		if err != nil {
			return Result{}, err
		}

		entityIDs := make([]string, 0, len(nameToID))
		for _, id := range nameToID {
			entityIDs = append(entityIDs, id)
		}

		stored = append(stored, linkUnit{Unit: persisted, EntityIDs: entityIDs})
		factIDs = append(factIDs, persisted.ID)
	}

	// Graph linking runs post-commit; failures are logged, never fail Retain
	// (§4.1 step 5).
	buildLinks(ctx, r.Store, bank, stored, r.logger())

	return Result{Stored: len(stored), Duplicates: duplicates, FactIDs: factIDs}, nil
}
