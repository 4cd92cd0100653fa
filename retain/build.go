package retain

import (
	"strings"
	"time"

	engine "github.com/membank/engine"
)

// dateOnly formats a Unix timestamp as YYYY-MM-DD, UTC.
func dateOnly(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02")
}

// parseTimestamp parses an ISO-8601 date or datetime string to Unix seconds
// UTC. Returns (0, false) for an empty or unparseable string.
func parseTimestamp(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Unix(), true
		}
	}
	return 0, false
}

// buildUnit turns one extractedFact into a engine.MemoryUnit ready for
// embedding and persistence. Malformed facts (no text, invalid fact_kind)
// return ok=false so the caller discards them rather than failing the
// whole batch (§4.1 step 1).
func buildUnit(bank string, f extractedFact, context_ string, mentionedAt int64) (engine.MemoryUnit, bool) {
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return engine.MemoryUnit{}, false
	}

	var kind engine.FactKind
	switch f.FactKind {
	case string(engine.KindEvent):
		kind = engine.KindEvent
	case string(engine.KindConversation):
		kind = engine.KindConversation
	default:
		return engine.MemoryUnit{}, false
	}

	factType := engine.FactWorld
	if f.FactType == string(engine.FactExperience) {
		factType = engine.FactExperience
	}

	u := engine.MemoryUnit{
		ID:          engine.NewID(),
		Bank:        bank,
		Text:        text,
		Context:     context_,
		FactType:    factType,
		FactKind:    kind,
		What:        f.What,
		Who:         dedupeNames(f.Who),
		WhenDesc:    f.WhenDesc,
		WhereDesc:   f.WhereDesc,
		WhyDesc:     f.WhyDesc,
		MentionedAt: mentionedAt,
		CreatedAt:   mentionedAt,
	}

	if ts, ok := parseTimestamp(f.EventDate); ok {
		u.EventDate = &ts
	}
	if ts, ok := parseTimestamp(f.OccurredStart); ok {
		u.OccurredStart = &ts
	}
	if ts, ok := parseTimestamp(f.OccurredEnd); ok {
		u.OccurredEnd = &ts
	}
	if u.OccurredStart != nil && u.OccurredEnd != nil && *u.OccurredStart > *u.OccurredEnd {
		u.OccurredEnd = u.OccurredStart
	}

	return u, true
}

// dedupeNames trims, drops empties, and removes case-insensitive duplicates
// while preserving first-seen order.
func dedupeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}
