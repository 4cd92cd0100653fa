// Package reflect answers a query by orchestrating an LLM through a fixed
// tool palette spanning the three memory tiers — mental models,
// observations, and raw memories — and validates that every id the model
// cites in its final answer was actually surfaced by a tool (§4.9).
package reflect

import (
	"context"
	"encoding/json"
	"log/slog"

	engine "github.com/membank/engine"
)

const defaultMaxIterations = 10

// Result is the outcome of one Reflect call (§4.9 step 4/5, §6).
type Result struct {
	Answer         string
	MemoryIDs      []string
	MentalModelIDs []string
	ObservationIDs []string
	Iterations     int
	ToolCalls      int
}

// Reflector runs the agentic reflect loop.
type Reflector struct {
	Store     engine.Store
	Embedding engine.EmbeddingProvider
	Provider  engine.Provider
	Tracer    engine.Tracer
	Logger    *slog.Logger
}

func (r *Reflector) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

// Reflect runs the tool-calling loop described in §4.9: build the system
// prompt from the bank's disposition/directives, then iterate calling the
// model with the fixed tool palette until it invokes done or iterations run
// out.
func (r *Reflector) Reflect(ctx context.Context, bank, query string, tags []string, tagMatch engine.TagMatch, excludeMentalModelIDs []string, maxIterations int) (Result, error) {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	if r.Tracer != nil {
		var span engine.Span
		ctx, span = r.Tracer.Start(ctx, "reflect", engine.StringAttr("bank", bank))
		defer span.End()
	}

	bankRecord, err := r.Store.GetBank(ctx, bank)
	if err != nil {
		return Result{}, err
	}

	system := buildSystemPrompt(bankRecord)
	hasDirectives := len(bankRecord.Directives) > 0
	tools := toolDefinitions(hasDirectives)

	runner := &toolRunner{
		store:     r.Store,
		embedding: r.Embedding,
		bank:      bank,
		tags:      tags,
		tagMatch:  tagMatch,
		excludeMM: excludeMentalModelIDs,
		available: newAvailableIDs(),
	}

	messages := []engine.ChatMessage{engine.SystemMessage(system), engine.UserMessage(query)}
	var toolCallCount int
	var lastText string

	for iteration := 0; iteration < maxIterations; iteration++ {
		resp, err := r.Provider.ChatWithTools(ctx, engine.ChatRequest{Messages: messages}, tools)
		if err != nil {
			return Result{}, err
		}

		if resp.Content != "" {
			lastText = resp.Content
		}

		if resp.StopReason != engine.StopToolUse {
			return Result{Answer: lastText, Iterations: iteration + 1, ToolCalls: toolCallCount}, nil
		}

		assistantMsg := engine.ChatMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		isLastIteration := iteration == maxIterations-1

		var doneResult *Result
		for _, call := range resp.ToolCalls {
			toolCallCount++

			if call.Name == toolDone {
				var args doneArgs
				if err := json.Unmarshal(call.Input, &args); err != nil {
					messages = append(messages, engine.ToolResultMessage(call.ToolUseID, "invalid done arguments: "+err.Error()))
					continue
				}
				if err := checkEvidence(args, runner.available, isLastIteration); err != nil {
					messages = append(messages, engine.ToolResultMessage(call.ToolUseID, err.Error()))
					continue
				}
				args = validateIDs(args, runner.available, r.logger())
				doneResult = &Result{
					Answer:         args.Answer,
					MemoryIDs:      args.MemoryIDs,
					MentalModelIDs: args.MentalModelIDs,
					ObservationIDs: args.ObservationIDs,
					Iterations:     iteration + 1,
					ToolCalls:      toolCallCount,
				}
				messages = append(messages, engine.ToolResultMessage(call.ToolUseID, "done"))
				continue
			}

			content, err := runner.run(ctx, call.Name, call.Input)
			if err != nil {
				content = "error: " + err.Error()
			}
			messages = append(messages, engine.ToolResultMessage(call.ToolUseID, content))
		}

		if doneResult != nil {
			return *doneResult, nil
		}
	}

	return fallbackResult(lastText, runner.available, toolCallCount, maxIterations), nil
}

// fallbackResult builds the exhausted-iterations return value: the last
// assistant text (or a generic fallback) plus every id gathered across the
// whole conversation (§4.9 step 5).
func fallbackResult(lastText string, available *availableIDs, toolCalls, maxIterations int) Result {
	if lastText == "" {
		lastText = "I was unable to reach a confident answer within the allotted search budget."
	}
	return Result{
		Answer:         lastText,
		MemoryIDs:      keys(available.memory),
		MentalModelIDs: keys(available.mentalModel),
		ObservationIDs: keys(available.observation),
		Iterations:     maxIterations,
		ToolCalls:      toolCalls,
	}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
