package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	engine "github.com/membank/engine"
)

// relatedObservation pairs a candidate Observation with up to 5 of its
// source memories (text + date), the shape the adjudication prompt shows
// the model (§4.3 step 2a).
type relatedObservation struct {
	ID      string
	Text    string
	Sources []engine.MemoryUnit
}

// adjudication is the adjudicator's decision for one fact (§4.3 step 2b).
// Action is "create", "update", or "" (no durable knowledge this round).
type adjudication struct {
	Action     string `json:"action"`
	LearningID string `json:"learning_id"`
	Text       string `json:"text"`
	Reason     string `json:"reason"`
}

const adjudicatePrompt = `You are a memory consolidator. You are given one new fact and a list of existing observations that may already cover it.

Extract only durable knowledge: standing traits, preferences, relationships, and facts that remain true going forward. Ignore ephemeral state (today's mood, a one-off event with no lasting implication). Never merge facts about two different people into one observation.

Decide one of:
- "create": the fact introduces durable knowledge not covered by any existing observation. Provide "text": a standalone observation sentence.
- "update": the fact updates, confirms, or contradicts an existing observation. Provide "learning_id" (the observation's id), "text" (the observation's new full text, incorporating the fact), and "reason" (why it changed).
- no durable knowledge: return an empty array.

Return ONLY a JSON array: either [] or a single-element array with one action object, nothing else.`

// adjudicate calls the consolidation model and parses its decision.
func adjudicate(ctx context.Context, provider engine.Provider, fact engine.MemoryUnit, related []relatedObservation, mission string) (adjudication, bool, error) {
	user := buildAdjudicateUser(fact, related, mission)
	resp, err := provider.Chat(ctx, engine.ChatRequest{
		Messages: []engine.ChatMessage{
			engine.SystemMessage(adjudicatePrompt),
			engine.UserMessage(user),
		},
	})
	if err != nil {
		return adjudication{}, false, err
	}
	return parseAdjudication(resp.Content)
}

func buildAdjudicateUser(fact engine.MemoryUnit, related []relatedObservation, mission string) string {
	var b strings.Builder
	if mission != "" {
		fmt.Fprintf(&b, "Mission: %s\n\n", mission)
	}
	fmt.Fprintf(&b, "New fact (id=%s): %s\n\n", fact.ID, fact.Text)
	if len(related) == 0 {
		b.WriteString("No existing related observations.\n")
	} else {
		b.WriteString("Existing related observations:\n")
		for _, r := range related {
			fmt.Fprintf(&b, "- id=%s: %s\n", r.ID, r.Text)
			for _, s := range r.Sources {
				fmt.Fprintf(&b, "    source (%s): %s\n", dateOnly(s.CreatedAt), s.Text)
			}
		}
	}
	return b.String()
}

// parseAdjudication accepts either a whole-text JSON array or the first
// balanced "[...]" substring (§9 LLM JSON parsing), returning ok=false for
// an empty array or an unparseable response (treated as "no durable
// knowledge" rather than a pipeline error).
func parseAdjudication(response string) (adjudication, bool, error) {
	response = strings.TrimSpace(response)
	var decisions []adjudication
	if err := json.Unmarshal([]byte(response), &decisions); err != nil {
		if sub, ok := firstBalancedArray(response); ok {
			_ = json.Unmarshal([]byte(sub), &decisions)
		}
	}
	if len(decisions) == 0 {
		return adjudication{}, false, nil
	}
	d := decisions[0]
	if d.Action != "create" && d.Action != "update" {
		return adjudication{}, false, nil
	}
	return d, true, nil
}

// firstBalancedArray returns the first balanced "[...]" substring of s,
// respecting string literals and bracket nesting within them.
func firstBalancedArray(s string) (string, bool) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
