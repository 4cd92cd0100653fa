package recall

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	engine "github.com/membank/engine"
)

const minKeywordRunes = 2

// compoundParticles are stripped whole, longest-first, before the
// single-character particle split (§4.2 step 3, "stripping long-first
// compound particles then splitting on single particles").
var compoundParticles = []string{
	"については", "にとって", "によると", "において", "に対して",
	"ということ", "というのは", "にも関わらず",
}

// singleParticleStrings delimit tokens once compounds are removed.
var singleParticleStrings = []string{"は", "が", "を", "に", "で", "と", "の", "へ", "や", "も", "から", "まで", "より"}

// extractKeywords tokenises query into the set of keywords used for
// trigram/bigram keyword search (§4.2 step 3). Japanese compound particles
// are stripped longest-first, then the remainder is split on single
// particles and whitespace/punctuation; tokens shorter than two runes and
// duplicates are dropped.
func extractKeywords(query string) []string {
	normalized := norm.NFKC.String(query)
	for _, p := range compoundParticles {
		normalized = strings.ReplaceAll(normalized, p, " ")
	}
	for _, p := range singleParticleStrings {
		normalized = strings.ReplaceAll(normalized, p, " ")
	}

	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})

	seen := map[string]bool{}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < minKeywordRunes {
			continue
		}
		key := strings.ToLower(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

const (
	semanticMinScore    = 0.1
	semanticPerType     = 34
	phaseATotalLimit    = 100
)

var phaseAFilter = engine.UnitFilter{
	FactTypes: []engine.FactType{engine.FactWorld, engine.FactExperience, engine.FactObservation},
}

// semanticSearch runs Phase A's semantic leg (§4.2 step 3).
func semanticSearch(ctx context.Context, store engine.Store, bank string, embedding []float32) ([]engine.ScoredUnit, error) {
	return store.SearchUnitsSemantic(ctx, bank, embedding, semanticMinScore, semanticPerType, phaseATotalLimit, phaseAFilter)
}

// keywordSearch runs Phase A's keyword leg (§4.2 step 3). Returns no
// results (not an error) when the query yields no keywords.
func keywordSearch(ctx context.Context, store engine.Store, bank, query string) ([]engine.ScoredUnit, error) {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}
	return store.SearchUnitsKeyword(ctx, bank, keywords, semanticPerType, phaseATotalLimit, phaseAFilter)
}
