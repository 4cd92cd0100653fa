package engine

import "encoding/json"

// --- Bank ---

// Bank is the tenant scope that owns one agent/user's memory. Banks are
// created and destroyed externally; the engine only reads Mission,
// Disposition, and Directives from it.
type Bank struct {
	ID          string    `json:"id"`
	Mission     string    `json:"mission,omitempty"`
	Disposition [3]int    `json:"disposition"` // skepticism, literalism, empathy — each 1..5
	Directives  []string  `json:"directives,omitempty"`
	CreatedAt   int64     `json:"created_at"`
}

// FactType classifies a MemoryUnit's provenance.
type FactType string

const (
	FactWorld       FactType = "world"
	FactExperience  FactType = "experience"
	FactObservation FactType = "observation"
)

// FactKind classifies what kind of real-world thing a raw fact describes.
// Empty for observations (FactKind only applies to raw Retain facts).
type FactKind string

const (
	KindEvent        FactKind = "event"
	KindConversation FactKind = "conversation"
)

// FreshnessStatus reflects the temporal distribution of an observation's
// evidence (§4.8). Nil/empty for non-observation units.
type FreshnessStatus string

const (
	FreshnessNew           FreshnessStatus = "new"
	FreshnessStrengthening FreshnessStatus = "strengthening"
	FreshnessStable        FreshnessStatus = "stable"
	FreshnessWeakening     FreshnessStatus = "weakening"
	FreshnessStale         FreshnessStatus = "stale"
)

// HistoryEntry records one contradiction/update applied to an Observation
// by consolidation (§4.3 step c, update action).
type HistoryEntry struct {
	PreviousText    string `json:"previous_text"`
	ChangedAt       int64  `json:"changed_at"`
	Reason          string `json:"reason"`
	SourceMemoryID  string `json:"source_memory_id"`
}

// MemoryUnit is the atomic fact/observation record (§3).
type MemoryUnit struct {
	ID     string   `json:"id"`
	Bank   string   `json:"bank"`
	Text   string   `json:"text"`
	Context string  `json:"context,omitempty"`

	FactType FactType  `json:"fact_type"`
	FactKind FactKind  `json:"fact_kind,omitempty"`

	// 5W1H
	What      string   `json:"what,omitempty"`
	Who       []string `json:"who,omitempty"`
	WhenDesc  string   `json:"when_desc,omitempty"`
	WhereDesc string   `json:"where_desc,omitempty"`
	WhyDesc   string   `json:"why_desc,omitempty"`

	EventDate     *int64 `json:"event_date,omitempty"`     // unix seconds, UTC
	OccurredStart *int64 `json:"occurred_start,omitempty"`
	OccurredEnd   *int64 `json:"occurred_end,omitempty"`
	MentionedAt   int64  `json:"mentioned_at"`
	CreatedAt     int64  `json:"created_at"`

	Embedding []float32 `json:"-"`
	Tags      []string  `json:"tags,omitempty"`

	ConsolidatedAt *int64 `json:"consolidated_at,omitempty"`

	// Observation-only fields.
	ProofCount      int            `json:"proof_count,omitempty"`
	SourceMemoryIDs []string       `json:"source_memory_ids,omitempty"`
	History         []HistoryEntry `json:"history,omitempty"`

	FreshnessStatus FreshnessStatus `json:"freshness_status,omitempty"`
}

// BestTime returns the unit's best-known timestamp, preferring event_date
// then occurred_start then mentioned_at (§4.7 temporal-edge construction).
func (u MemoryUnit) BestTime() int64 {
	if u.EventDate != nil {
		return *u.EventDate
	}
	if u.OccurredStart != nil {
		return *u.OccurredStart
	}
	return u.MentionedAt
}

// ScoredUnit pairs a MemoryUnit with a retrieval score in [0,1].
type ScoredUnit struct {
	MemoryUnit
	Score float32 `json:"score"`
}

// --- Entity ---

// Entity is a canonical reference to a person/thing (§3, §4.6).
type Entity struct {
	ID            string `json:"id"`
	Bank          string `json:"bank"`
	CanonicalName string `json:"canonical_name"`
	EntityType    string `json:"entity_type,omitempty"`
	MentionCount  int    `json:"mention_count"`
	LastSeen      int64  `json:"last_seen"`
}

// UnitEntity is the M:N join between a MemoryUnit and an Entity (§3).
type UnitEntity struct {
	UnitID   string `json:"unit_id"`
	EntityID string `json:"entity_id"`
}

// EntityCooccurrence is an unordered entity pair that has appeared in the
// same unit (§3). EntityID1 < EntityID2 is enforced by the store.
type EntityCooccurrence struct {
	EntityID1        string `json:"entity_id_1"`
	EntityID2        string `json:"entity_id_2"`
	Bank             string `json:"bank"`
	CooccurrenceCount int   `json:"cooccurrence_count"`
	LastCooccurred   int64  `json:"last_cooccurred"`
}

// --- MemoryLink ---

// LinkType is the type of a directed edge between two MemoryUnits (§3, §4.4).
type LinkType string

const (
	LinkSemantic LinkType = "semantic"
	LinkTemporal LinkType = "temporal"
	LinkEntity   LinkType = "entity"
	LinkCauses   LinkType = "causes"
	LinkCausedBy LinkType = "caused_by"
)

// MemoryLink is a directed typed edge between two units in the same bank.
type MemoryLink struct {
	Bank     string   `json:"bank"`
	FromUnit string   `json:"from_unit"`
	ToUnit   string   `json:"to_unit"`
	LinkType LinkType `json:"link_type"`
	Weight   float32  `json:"weight"`
	EntityID string   `json:"entity_id,omitempty"`
}

// --- MentalModel ---

// MentalModelTrigger configures when a MentalModel is automatically refreshed.
type MentalModelTrigger struct {
	RefreshAfterConsolidation bool `json:"refresh_after_consolidation"`
}

// MentalModel is a curated, embedded free-text summary (§3, §4.3, §4.9).
type MentalModel struct {
	ID                  string              `json:"id"`
	Bank                string              `json:"bank"`
	Name                string              `json:"name"`
	Description         string              `json:"description,omitempty"`
	Content             string              `json:"content"`
	Embedding           []float32           `json:"-"`
	SourceQuery         string              `json:"source_query,omitempty"`
	EntityID            string              `json:"entity_id,omitempty"`
	SourceObservationIDs []string           `json:"source_observation_ids,omitempty"`
	Tags                []string            `json:"tags,omitempty"`
	MaxTokens           int                 `json:"max_tokens,omitempty"`
	Trigger             MentalModelTrigger  `json:"trigger"`
	LastRefreshedAt      int64              `json:"last_refreshed_at,omitempty"`
	CreatedAt            int64              `json:"created_at"`
	UpdatedAt            int64              `json:"updated_at"`
}

// ScoredModel pairs a MentalModel with a retrieval score.
type ScoredModel struct {
	MentalModel
	Score float32 `json:"score"`
}

// --- Chunk ---

// Chunk is an optional sub-unit of detail attached to a MemoryUnit (§3).
type Chunk struct {
	MemoryUnitID string    `json:"memory_unit_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"-"`
}

// --- Tag filtering (shared by MentalModel search and Reflect tools, §4.9) ---

// TagMatch is the tag-filter mode for mental-model and observation search.
type TagMatch string

const (
	TagMatchAny       TagMatch = "any"
	TagMatchAll       TagMatch = "all"
	TagMatchAnyStrict TagMatch = "any_strict"
	TagMatchAllStrict TagMatch = "all_strict"
)

// --- LLM protocol types (§6) ---

// ChatMessage is one turn in an LLM conversation.
type ChatMessage struct {
	Role       string          `json:"role"` // "system", "user", "assistant", "tool"
	Content    string          `json:"content"`
	ToolCalls  []ToolUse       `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// SystemMessage builds a system-role ChatMessage.
func SystemMessage(s string) ChatMessage { return ChatMessage{Role: "system", Content: s} }

// UserMessage builds a user-role ChatMessage.
func UserMessage(s string) ChatMessage { return ChatMessage{Role: "user", Content: s} }

// ToolUse is a single tool invocation requested by the model.
type ToolUse struct {
	ToolUseID string          `json:"tool_use_id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

// ToolResultMessage builds a tool-role ChatMessage carrying a tool's output.
func ToolResultMessage(toolUseID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: toolUseID}
}

// StopReason is the terminal condition of one ChatWithTools call.
type StopReason string

const (
	StopToolUse StopReason = "tool_use"
	StopEndTurn StopReason = "end_turn"
)

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	System   string        `json:"system,omitempty"`
	Messages []ChatMessage `json:"messages"`
}

// Usage reports token accounting for one LLM call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is returned by an LLM provider.
type ChatResponse struct {
	Content    string     `json:"content"`
	StopReason StopReason `json:"stop_reason"`
	ToolCalls  []ToolUse  `json:"tool_calls,omitempty"`
	Usage      Usage      `json:"usage"`
}

// ToolDefinition describes one callable tool in JSON-schema form.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// RankedDocument is one (index, relevance_score) pair returned by a Reranker.
type RankedDocument struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}
