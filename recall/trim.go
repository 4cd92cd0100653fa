package recall

import (
	engine "github.com/membank/engine"
	"github.com/membank/engine/internal/tokenest"
)

// trimToBudget walks units in order, accumulating an estimated token cost
// of len(text)+len(context) at tokenest.CharsPerToken, stopping once
// maxTokens would be exceeded — but always keeping at least one (§4.2
// step 8).
func trimToBudget(units []engine.ScoredUnit, maxTokens int) []engine.ScoredUnit {
	if len(units) == 0 {
		return units
	}

	var spent int
	out := make([]engine.ScoredUnit, 0, len(units))
	for _, u := range units {
		cost := tokenest.EstimateText(u.Text + u.Context)
		if len(out) > 0 && spent+cost > maxTokens {
			break
		}
		out = append(out, u)
		spent += cost
	}
	return out
}
