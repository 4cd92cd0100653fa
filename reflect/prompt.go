package reflect

import (
	"fmt"
	"strings"

	engine "github.com/membank/engine"
)

// dispositionAxis names the three 1..5 disposition dials a Bank carries, in
// the fixed order types.Bank stores them (§4.9 step 1): skepticism toward
// unverified claims, literalism in interpreting what was said, and empathy
// toward the emotional weight of a situation.
var dispositionAxis = [3]struct {
	name string
	low  string
	high string
}{
	{"skepticism", "Trust the information you're given and take it at face value; don't go looking for corroboration unless something is plainly suspicious.", "Treat claims skeptically. Actively look for contradicting evidence and flag anything asserted without support."},
	{"literalism", "Read between the lines. Weigh the intent and nuance implied by context, not just the literal words.", "Interpret things literally. Focus on exact commitments, specific numbers, and facts stated explicitly."},
	{"empathy", "Focus on facts and outcomes. Prioritize objective data and logical analysis.", "Weigh emotional state and circumstance. Take an empathetic view and attend to the psychological dimension as well as the facts."},
}

// reasoningInstructions is the fixed body of the system prompt, independent
// of any one bank's disposition or directives (§4.9 step 2).
const reasoningInstructions = `You are the reflection layer of a memory engine. Answer the user's question using only evidence you gather through tools — never invent facts.

Search broadly before answering: mental models first for synthesized context, then observations and raw memories for detail. Use expand when a memory's full 5W1H detail would change your answer. Call done only once you have enough evidence to answer confidently, or once further searching is clearly unproductive.

Every memory id, mental model id, or observation id you cite in done must come from a tool result you actually received this conversation.`

// buildSystemPrompt assembles the system prompt from the bank's directives
// and disposition plus the fixed reasoning instructions (§4.9 step 2).
func buildSystemPrompt(bank engine.Bank) string {
	var b strings.Builder

	hasDirectives := len(bank.Directives) > 0
	if hasDirectives {
		b.WriteString("## 必須\n")
		for _, d := range bank.Directives {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteString("\n")
	}

	for i, axis := range dispositionAxis {
		v := bank.Disposition[i]
		switch {
		case v >= 4:
			fmt.Fprintf(&b, "%s\n", axis.high)
		case v > 0 && v <= 2:
			fmt.Fprintf(&b, "%s\n", axis.low)
		}
	}

	b.WriteString("\n")
	b.WriteString(reasoningInstructions)

	if hasDirectives {
		b.WriteString("\n\nBefore calling done, re-read the 必須 directives above and confirm your answer complies with every one of them.")
	}

	return b.String()
}
