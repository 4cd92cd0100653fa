package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/membank/engine/internal/concurrency"
)

// Default engine-level concurrency ceilings (§5): at most 5 concurrent
// Retain calls, and 32 shared between Recall and Reflect, regardless of how
// many goroutines a single caller spins up internally.
const (
	DefaultRetainConcurrency        int64 = 5
	DefaultRecallReflectConcurrency int64 = 32
)

// Retainer runs the extract->embed->dedupe->persist->link pipeline (§4.1).
// *retain.Retainer returns retain.Result, so a thin adapter mapping it to
// RetainResult satisfies this interface; declared here so Engine doesn't
// import the retain package.
type Retainer interface {
	Retain(ctx context.Context, bank, content, context_ string) (RetainResult, error)
}

// Recaller runs the Recall pipeline (§4.2).
type Recaller interface {
	Recall(ctx context.Context, bank, query string, budget RecallBudget) (RecallResult, error)
}

// ReflectRunner runs the agentic reflect loop (§4.9).
type ReflectRunner interface {
	Reflect(ctx context.Context, bank, query string, tags []string, tagMatch TagMatch, excludeMentalModelIDs []string, maxIterations int) (ReflectResultOut, error)
}

// Consolidator runs the periodic consolidation iteration (§4.3).
type Consolidator interface {
	TriggerConsolidation(ctx context.Context) (ConsolidationResult, error)
	Run(ctx context.Context, interval time.Duration)
}

// RetainResult mirrors retain.Result so callers of Engine don't need to
// import the retain package directly.
type RetainResult struct {
	Stored     int
	Duplicates int
	FactIDs    []string
}

// RecallBudget mirrors recall.Budget.
type RecallBudget string

const (
	RecallBudgetLow  RecallBudget = "low"
	RecallBudgetMid  RecallBudget = "mid"
	RecallBudgetHigh RecallBudget = "high"
)

// RecallResult mirrors recall.Result.
type RecallResult struct {
	Memories   []ScoredUnit
	TotalFound int
	Returned   int
	Budget     RecallBudget
}

// ReflectResultOut mirrors reflect.Result.
type ReflectResultOut struct {
	Answer         string
	MemoryIDs      []string
	MentalModelIDs []string
	ObservationIDs []string
	Iterations     int
	ToolCalls      int
}

// ConsolidationResult mirrors consolidate.Result.
type ConsolidationResult struct {
	BanksProcessed int
	TotalProcessed int
	ElapsedMs      int64
}

// Engine owns the shared store/provider singletons and the engine-level
// concurrency gates (§5), exposing the four public operations (§6):
// retain, recall, reflect, trigger_consolidation. It is built by a
// process-level wiring layer (a cmd binary, a test harness) that supplies
// concrete Store/Provider/EmbeddingProvider/Reranker implementations —
// Engine itself never constructs them or loads configuration.
type Engine struct {
	Store     Store
	Retain    Retainer
	Recall    Recaller
	Reflect   ReflectRunner
	Consolidate Consolidator
	Tracer    Tracer
	Logger    *slog.Logger

	retainGate        *concurrency.Gate
	recallReflectGate *concurrency.Gate
}

// New builds an Engine from already-constructed pipeline dependencies,
// installing the default engine-level concurrency gates (§5).
func New(store Store, retainer Retainer, recaller Recaller, reflector ReflectRunner, consolidator Consolidator, tracer Tracer, logger *slog.Logger) *Engine {
	return &Engine{
		Store:             store,
		Retain:            retainer,
		Recall:            recaller,
		Reflect:           reflector,
		Consolidate:       consolidator,
		Tracer:            tracer,
		Logger:            orNop(logger),
		retainGate:        concurrency.NewGate(DefaultRetainConcurrency),
		recallReflectGate: concurrency.NewGate(DefaultRecallReflectConcurrency),
	}
}

// DoRetain runs retain(bank, content, context) under the engine-level
// retain concurrency gate (§5, §6).
func (e *Engine) DoRetain(ctx context.Context, bank, content, context_ string) (RetainResult, error) {
	if err := e.retainGate.Acquire(ctx); err != nil {
		return RetainResult{}, err
	}
	defer e.retainGate.Release()
	return e.Retain.Retain(ctx, bank, content, context_)
}

// DoRecall runs recall(bank, query, budget) under the shared
// recall+reflect concurrency gate (§5, §6).
func (e *Engine) DoRecall(ctx context.Context, bank, query string, budget RecallBudget) (RecallResult, error) {
	if err := e.recallReflectGate.Acquire(ctx); err != nil {
		return RecallResult{}, err
	}
	defer e.recallReflectGate.Release()
	return e.Recall.Recall(ctx, bank, query, budget)
}

// DoReflect runs reflect(bank, query, ...) under the shared
// recall+reflect concurrency gate (§5, §6).
func (e *Engine) DoReflect(ctx context.Context, bank, query string, tags []string, tagMatch TagMatch, excludeMentalModelIDs []string, maxIterations int) (ReflectResultOut, error) {
	if err := e.recallReflectGate.Acquire(ctx); err != nil {
		return ReflectResultOut{}, err
	}
	defer e.recallReflectGate.Release()
	return e.Reflect.Reflect(ctx, bank, query, tags, tagMatch, excludeMentalModelIDs, maxIterations)
}

// TriggerConsolidation runs one consolidation pass over every bank (§4.3, §6).
// Not gated: it is invoked at most once per tick by the background worker,
// or on demand by an operator, never by per-request traffic.
func (e *Engine) TriggerConsolidation(ctx context.Context) (ConsolidationResult, error) {
	return e.Consolidate.TriggerConsolidation(ctx)
}

// RunConsolidationLoop starts the background consolidation ticker (§4.3, §5)
// and blocks until ctx is cancelled. Callers run it in its own goroutine.
func (e *Engine) RunConsolidationLoop(ctx context.Context, interval time.Duration) {
	e.Consolidate.Run(ctx, interval)
}

// Close releases the underlying store's resources (connection pool, etc).
func (e *Engine) Close() error {
	return e.Store.Close()
}
