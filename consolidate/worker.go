// Package consolidate implements the periodic worker that promotes raw
// facts into durable Observations and maintains freshness and mental
// models (§4.3, §4.8). Grounded on the teacher's scheduler.go ticker-driven
// background loop, generalised from one-shot scheduled actions to a
// per-bank batch iteration.
package consolidate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	engine "github.com/membank/engine"
)

const (
	factBatchSize            = 10
	relatedObservationLimit  = 10
	relatedObservationScore  = 0.3
	relatedSourcesPerModel   = 5
	maxRefreshedModels       = 3
	maxAutoGeneratedModels   = 2
	autoGenMinObservations   = 5
	autoGenNameSimilarity    = 0.8
	autoGenMaxIterations     = 5
	autoGenMinAnswerRunes    = 50
)

// ReflectResult is the subset of a Reflect call's outcome consolidate needs
// to refresh or auto-generate a MentalModel.
type ReflectResult struct {
	Answer         string
	ObservationIDs []string
}

// Reflector is the narrow view of the Reflect pipeline consolidate depends
// on; reflect.Reflector returns reflect.Result, so an adapter mapping it
// to ReflectResult satisfies it. Kept as a local interface so this
// package doesn't import reflect's tool-calling machinery.
type Reflector interface {
	Reflect(ctx context.Context, bank, query string, tags []string, tagMatch engine.TagMatch, excludeMentalModelIDs []string, maxIterations int) (ReflectResult, error)
}

// BankResult summarises one bank's consolidation iteration.
type BankResult struct {
	Processed int
	Created   int
	Updated   int
	Skipped   int
}

// Result is the outcome of one trigger_consolidation call (§6).
type Result struct {
	BanksProcessed int
	TotalProcessed int
	Results        map[string]BankResult
	ElapsedMs      int64
}

// Worker runs the consolidation iteration, on demand or on a ticker (§4.3).
type Worker struct {
	Store     engine.Store
	Provider  engine.Provider
	Embedding engine.EmbeddingProvider
	Reflector Reflector
	Tracer    engine.Tracer
	Logger    *slog.Logger

	// Now returns the current time; overridable for deterministic tests.
	Now func() time.Time
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.Logger
}

// Run drives the periodic schedule: one TriggerConsolidation call per tick,
// honouring cancellation between iterations and at every sleep (§4.3, §5).
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.TriggerConsolidation(ctx); err != nil {
				w.logger().Error("consolidate: iteration failed", "err", err)
			}
		}
	}
}

// TriggerConsolidation runs one consolidation pass over every bank (§6).
// A single bank's failure is logged and does not stop the others.
func (w *Worker) TriggerConsolidation(ctx context.Context) (Result, error) {
	if w.Tracer != nil {
		var span engine.Span
		ctx, span = w.Tracer.Start(ctx, "trigger_consolidation")
		defer span.End()
	}

	start := w.now()
	banks, err := w.Store.Banks(ctx)
	if err != nil {
		return Result{}, err
	}

	results := make(map[string]BankResult, len(banks))
	var total int
	for _, bank := range banks {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		res, err := w.consolidateBank(ctx, bank)
		if err != nil {
			w.logger().Error("consolidate: bank iteration failed", "bank", bank, "err", err)
			continue
		}
		results[bank] = res
		total += res.Processed
	}

	return Result{
		BanksProcessed: len(banks),
		TotalProcessed: total,
		Results:        results,
		ElapsedMs:      w.now().Sub(start).Milliseconds(),
	}, nil
}

// consolidateBank runs one bank's iteration: fetch batch, adjudicate each
// fact sequentially in created_at order, then freshness + mental-model
// maintenance if anything was processed (§4.3).
func (w *Worker) consolidateBank(ctx context.Context, bank string) (BankResult, error) {
	now := w.now().Unix()

	facts, err := w.Store.UnconsolidatedBatch(ctx, bank, factBatchSize)
	if err != nil {
		return BankResult{}, err
	}
	if len(facts) == 0 {
		return BankResult{}, nil
	}

	bankRecord, err := w.Store.GetBank(ctx, bank)
	if err != nil {
		return BankResult{}, err
	}

	var result BankResult
	touchedEntities := map[string]bool{}

	for _, fact := range facts {
		action, entityIDs, err := w.processFact(ctx, bank, fact, bankRecord.Mission, now)
		if err != nil {
			// Left with consolidated_at = NULL for retry next cycle (§4.3 Failure semantics).
			w.logger().Warn("consolidate: fact processing failed, will retry", "bank", bank, "fact", fact.ID, "err", err)
			continue
		}

		if err := w.Store.MarkConsolidated(ctx, bank, fact.ID, now); err != nil {
			w.logger().Warn("consolidate: mark consolidated failed", "bank", bank, "fact", fact.ID, "err", err)
			continue
		}

		result.Processed++
		switch action {
		case "create":
			result.Created++
		case "update":
			result.Updated++
		default:
			result.Skipped++
		}
		for _, id := range entityIDs {
			touchedEntities[id] = true
		}
	}

	if result.Processed == 0 {
		return result, nil
	}

	if err := freshnessPass(ctx, w.Store, bank, now); err != nil {
		w.logger().Warn("consolidate: freshness pass failed", "bank", bank, "err", err)
	}

	if w.Reflector != nil {
		w.refreshTriggeredModels(ctx, bank, now)
		w.autoGenerateModels(ctx, bank, bankRecord, touchedEntities, now)
	}

	return result, nil
}

// embedOne embeds a single string, the shape consolidate needs throughout
// (adjudication text, observation text), against the batch-shaped
// EmbeddingProvider contract (§6).
func embedOne(ctx context.Context, emb engine.EmbeddingProvider, text string) ([]float32, error) {
	out, err := emb.Embed(ctx, []string{engine.TruncateForEmbedding(text)})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("consolidate: embedding provider returned no vectors")
	}
	return out[0], nil
}

func dateOnly(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02")
}
