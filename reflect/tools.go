package reflect

import (
	"context"
	"encoding/json"
	"fmt"

	engine "github.com/membank/engine"
)

const (
	toolSearchMentalModels = "search_mental_models"
	toolSearchObservations = "search_observations"
	toolRecall             = "recall"
	toolExpand             = "expand"
	toolDone               = "done"

	toolSemanticMinScore = 0.1

	maxSearchMentalModelsResults = 20
	maxSearchObservationsResults = 50
	maxRecallResults             = 100
	maxExpandIDs                 = 10
)

// toolDefinitions returns the fixed five-tool palette (§4.9 step 3).
// directiveCompliance adds a required directive_compliance field to done
// when the bank carries directives (§4.9 step 2).
func toolDefinitions(directiveCompliance bool) []engine.ToolDefinition {
	doneSchema := `{"type":"object","properties":{` +
		`"answer":{"type":"string","description":"The final answer to the user's query."},` +
		`"memory_ids":{"type":"array","items":{"type":"string"},"description":"Raw memory ids (from recall) cited in the answer."},` +
		`"mental_model_ids":{"type":"array","items":{"type":"string"},"description":"Mental model ids cited in the answer."},` +
		`"observation_ids":{"type":"array","items":{"type":"string"},"description":"Observation ids cited in the answer."}`
	required := `"required":["answer","memory_ids","mental_model_ids","observation_ids"`
	if directiveCompliance {
		doneSchema += `,"directive_compliance":{"type":"array","items":{"type":"string"},"description":"For each 必須 directive, a short note on how the answer complies."}`
		required += `,"directive_compliance"`
	}
	doneSchema += `},` + required + `]}`

	return []engine.ToolDefinition{
		{
			Name:        toolSearchMentalModels,
			Description: "Search curated mental-model summaries (synthesized context about an entity or topic). Prefer this first.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"max_results":{"type":"integer","maximum":20}},"required":["query"]}`),
		},
		{
			Name:        toolSearchObservations,
			Description: "Search consolidated observations (durable, proven-over-time facts) by semantic similarity.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"max_results":{"type":"integer","maximum":50}},"required":["query"]}`),
		},
		{
			Name:        toolRecall,
			Description: "Search raw world/experience memories by semantic similarity. Use for specific one-off facts and events.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"max_results":{"type":"integer","maximum":100}},"required":["query"]}`),
		},
		{
			Name:        toolExpand,
			Description: "Fetch the full 5W1H detail and any linked chunks for up to 10 memory ids already seen from another tool.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"memory_ids":{"type":"array","items":{"type":"string"},"maxItems":10}},"required":["memory_ids"]}`),
		},
		{
			Name:        toolDone,
			Description: "Terminate and return the final answer together with the ids of every piece of evidence it relies on.",
			InputSchema: json.RawMessage(doneSchema),
		},
	}
}

// availableIDs accumulates every id returned by search_mental_models,
// search_observations, and recall across the whole conversation, so the
// evidence guardrail and id validation can check done's citations against
// what the model actually saw (§4.9 step 4).
type availableIDs struct {
	memory      map[string]bool
	mentalModel map[string]bool
	observation map[string]bool
}

func newAvailableIDs() *availableIDs {
	return &availableIDs{
		memory:      map[string]bool{},
		mentalModel: map[string]bool{},
		observation: map[string]bool{},
	}
}

func (a *availableIDs) empty() bool {
	return len(a.memory) == 0 && len(a.mentalModel) == 0 && len(a.observation) == 0
}

// toolRunner executes one tool call against the store/embedding provider and
// records any ids it surfaces into available.
type toolRunner struct {
	store     engine.Store
	embedding engine.EmbeddingProvider
	bank      string
	tags      []string
	tagMatch  engine.TagMatch
	excludeMM []string
	available *availableIDs
}

func (r *toolRunner) run(ctx context.Context, name string, args json.RawMessage) (string, error) {
	switch name {
	case toolSearchMentalModels:
		return r.searchMentalModels(ctx, args)
	case toolSearchObservations:
		return r.searchObservations(ctx, args)
	case toolRecall:
		return r.recall(ctx, args)
	case toolExpand:
		return r.expand(ctx, args)
	default:
		return "", fmt.Errorf("reflect: unknown tool %q", name)
	}
}

func (r *toolRunner) embed(ctx context.Context, query string) ([]float32, error) {
	out, err := r.embedding.Embed(ctx, []string{engine.TruncateForEmbedding(query)})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("reflect: embedding provider returned no vectors")
	}
	return out[0], nil
}

func (r *toolRunner) searchMentalModels(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", err
	}
	limit := clamp(params.MaxResults, maxSearchMentalModelsResults)

	embedding, err := r.embed(ctx, params.Query)
	if err != nil {
		return "", err
	}
	results, err := r.store.SearchMentalModels(ctx, r.bank, embedding, toolSemanticMinScore, limit, r.tags, r.tagMatch, r.excludeMM)
	if err != nil {
		return "", err
	}

	var b jsonLines
	for _, m := range results {
		r.available.mentalModel[m.ID] = true
		b.add(map[string]any{"id": m.ID, "name": m.Name, "content": m.Content, "score": m.Score})
	}
	return b.String(), nil
}

func (r *toolRunner) searchObservations(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", err
	}
	limit := clamp(params.MaxResults, maxSearchObservationsResults)

	embedding, err := r.embed(ctx, params.Query)
	if err != nil {
		return "", err
	}
	results, err := r.store.SearchUnitsSemantic(ctx, r.bank, embedding, toolSemanticMinScore, 0, limit, engine.UnitFilter{
		FactTypes: []engine.FactType{engine.FactObservation},
	})
	if err != nil {
		return "", err
	}

	var b jsonLines
	for _, u := range results {
		r.available.observation[u.ID] = true
		b.add(map[string]any{"id": u.ID, "text": u.Text, "freshness": u.FreshnessStatus, "score": u.Score})
	}
	return b.String(), nil
}

func (r *toolRunner) recall(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", err
	}
	limit := clamp(params.MaxResults, maxRecallResults)

	embedding, err := r.embed(ctx, params.Query)
	if err != nil {
		return "", err
	}
	results, err := r.store.SearchUnitsSemantic(ctx, r.bank, embedding, toolSemanticMinScore, 0, limit, engine.UnitFilter{
		FactTypes: []engine.FactType{engine.FactWorld, engine.FactExperience},
	})
	if err != nil {
		return "", err
	}

	var b jsonLines
	for _, u := range results {
		r.available.memory[u.ID] = true
		b.add(map[string]any{"id": u.ID, "text": u.Text, "score": u.Score})
	}
	return b.String(), nil
}

func (r *toolRunner) expand(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		MemoryIDs []string `json:"memory_ids"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", err
	}
	ids := params.MemoryIDs
	if len(ids) > maxExpandIDs {
		ids = ids[:maxExpandIDs]
	}

	units, err := r.store.GetUnitsByIDs(ctx, r.bank, ids)
	if err != nil {
		return "", err
	}
	chunks, err := r.store.GetChunksForUnits(ctx, r.bank, ids)
	if err != nil {
		return "", err
	}
	chunksByUnit := map[string][]engine.Chunk{}
	for _, c := range chunks {
		chunksByUnit[c.MemoryUnitID] = append(chunksByUnit[c.MemoryUnitID], c)
	}

	var b jsonLines
	for _, u := range units {
		entry := map[string]any{
			"id": u.ID, "text": u.Text, "what": u.What, "who": u.Who,
			"when_desc": u.WhenDesc, "where_desc": u.WhereDesc, "why_desc": u.WhyDesc,
		}
		if cs := chunksByUnit[u.ID]; len(cs) > 0 {
			texts := make([]string, len(cs))
			for i, c := range cs {
				texts[i] = c.Text
			}
			entry["chunks"] = texts
		}
		b.add(entry)
	}
	return b.String(), nil
}

func clamp(requested, max int) int {
	if requested <= 0 || requested > max {
		return max
	}
	return requested
}
