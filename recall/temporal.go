package recall

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	engine "github.com/membank/engine"
	"github.com/membank/engine/internal/calendar"
)

var (
	reDaysAgoEN  = regexp.MustCompile(`(\d+)\s*days?\s+ago`)
	reDaysAgoJA  = regexp.MustCompile(`(\d+)\s*日前`)
	reYearsAgoEN = regexp.MustCompile(`(\d+)\s*years?\s+ago`)
	reYearsAgoJA = regexp.MustCompile(`(\d+)\s*年前`)
	reAbsoluteJA = regexp.MustCompile(`(\d{4})年(\d{1,2})月`)

	weekdayNamesEN = map[string]int{
		"monday": 0, "tuesday": 1, "wednesday": 2, "thursday": 3,
		"friday": 4, "saturday": 5, "sunday": 6,
	}
	weekdayNamesJA = map[string]int{
		"月曜": 0, "火曜": 1, "水曜": 2, "木曜": 3, "金曜": 4, "土曜": 5, "日曜": 6,
	}
)

const secondsPerDay = 86400

// extractTimeRange scans query for a localised relative or absolute date
// expression, returning the matching day/month/range window (§4.2 step 2).
// Relative N is capped at calendar.MaxRelativeYears; no match means no
// temporal component runs.
func extractTimeRange(query string, now int64) (engine.TemporalWindow, bool) {
	lower := strings.ToLower(query)

	switch {
	case containsAny(lower, "yesterday", "昨日"):
		day := now - secondsPerDay
		y, m, d := calendar.UnixToDate(day)
		start := calendar.DateToUnix(y, m, d)
		return engine.TemporalWindow{Start: start, End: start + secondsPerDay}, true

	case containsAny(lower, "today", "今日"):
		y, m, d := calendar.UnixToDate(now)
		start := calendar.DateToUnix(y, m, d)
		return engine.TemporalWindow{Start: start, End: start + secondsPerDay}, true

	case containsAny(lower, "last month", "先月"):
		start, end := calendar.LastMonthRange(now)
		return engine.TemporalWindow{Start: start, End: end}, true
	}

	if m := reDaysAgoEN.FindStringSubmatch(lower); m != nil {
		return daysAgoRange(now, m[1])
	}
	if m := reDaysAgoJA.FindStringSubmatch(lower); m != nil {
		return daysAgoRange(now, m[1])
	}

	if m := reYearsAgoEN.FindStringSubmatch(lower); m != nil {
		return yearsAgoRange(now, m[1])
	}
	if m := reYearsAgoJA.FindStringSubmatch(lower); m != nil {
		return yearsAgoRange(now, m[1])
	}

	if m := reAbsoluteJA.FindStringSubmatch(lower); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month >= 1 && month <= 12 {
			start, end := calendar.MonthRange(year, month)
			return engine.TemporalWindow{Start: start, End: end}, true
		}
	}

	for name, dow := range weekdayNamesEN {
		if containsFold(lower, "last "+name) {
			start := calendar.LastWeekday(now, dow)
			return engine.TemporalWindow{Start: start, End: start + secondsPerDay}, true
		}
	}
	for name, dow := range weekdayNamesJA {
		if containsAny(lower, "先週の"+name+"日") {
			start := calendar.LastWeekday(now, dow)
			return engine.TemporalWindow{Start: start, End: start + secondsPerDay}, true
		}
	}

	return engine.TemporalWindow{}, false
}

func daysAgoRange(now int64, nStr string) (engine.TemporalWindow, bool) {
	n, err := strconv.Atoi(nStr)
	if err != nil || n < 0 {
		return engine.TemporalWindow{}, false
	}
	ny, nm, nd := calendar.UnixToDate(now)
	if maxDays := int((now - calendar.DateToUnix(ny-calendar.MaxRelativeYears, nm, nd)) / secondsPerDay); n > maxDays {
		n = maxDays
	}
	day := now - int64(n)*secondsPerDay
	y, m, d := calendar.UnixToDate(day)
	start := calendar.DateToUnix(y, m, d)
	return engine.TemporalWindow{Start: start, End: start + secondsPerDay}, true
}

func yearsAgoRange(now int64, nStr string) (engine.TemporalWindow, bool) {
	n, err := strconv.Atoi(nStr)
	if err != nil || n < 0 {
		return engine.TemporalWindow{}, false
	}
	if n > calendar.MaxRelativeYears {
		n = calendar.MaxRelativeYears
	}
	y, m, d := calendar.UnixToDate(now)
	start := calendar.DateToUnix(y-n, m, d)
	return engine.TemporalWindow{Start: start, End: start + secondsPerDay}, true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if containsFold(s, sub) {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return indexFold(s, sub) >= 0
}

func indexFold(s, sub string) int {
	if sub == "" {
		return 0
	}
	rs, rsub := []rune(s), []rune(sub)
	for i := 0; i+len(rsub) <= len(rs); i++ {
		match := true
		for j := range rsub {
			a, b := rs[i+j], rsub[j]
			if 'A' <= a && a <= 'Z' {
				a += 'a' - 'A'
			}
			if 'A' <= b && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

const (
	temporalDirectLimit    = 20
	temporalDirectMinScore = 0.1
	temporalHopMinWeight   = 0.1
	temporalBoost          = 2.0
	temporalDecay          = 0.7
	temporalDropBelow      = 0.05
)

// temporalSearch runs the two-phase temporal retrieval (§4.5): a direct
// range-overlap match scored by proximity to the range midpoint, then a
// one-hop link expansion along temporal/causal edges.
func temporalSearch(ctx context.Context, store engine.Store, bank string, embedding []float32, window engine.TemporalWindow, budget int, filter engine.UnitFilter) ([]engine.ScoredUnit, error) {
	direct, err := store.SearchUnitsTemporal(ctx, bank, embedding, window, temporalDirectMinScore, temporalDirectLimit, filter)
	if err != nil {
		return nil, err
	}

	mid := (window.Start + window.End) / 2
	combined := make(map[string]engine.ScoredUnit, len(direct))
	excludeIDs := make([]string, 0, len(direct))
	for _, u := range direct {
		u.Score = temporalProximity(u.BestTime(), window.Start, window.End, mid)
		combined[u.ID] = u
		excludeIDs = append(excludeIDs, u.ID)
	}

	links, err := store.LinksFromUnits(ctx, bank, excludeIDs, []engine.LinkType{engine.LinkTemporal, engine.LinkCauses, engine.LinkCausedBy}, float32(temporalHopMinWeight))
	if err != nil {
		return nil, err
	}

	neighbourIDs := make([]string, 0, len(links))
	seenNeighbour := map[string]bool{}
	for _, l := range links {
		if _, already := combined[l.ToUnit]; already {
			continue
		}
		if seenNeighbour[l.ToUnit] {
			continue
		}
		seenNeighbour[l.ToUnit] = true
		neighbourIDs = append(neighbourIDs, l.ToUnit)
	}
	if len(neighbourIDs) == 0 {
		return trimToTopProximity(combined, budget), nil
	}

	neighbours, err := store.GetUnitsByIDs(ctx, bank, neighbourIDs)
	if err != nil {
		return nil, err
	}
	neighbourByID := make(map[string]engine.MemoryUnit, len(neighbours))
	for _, u := range neighbours {
		neighbourByID[u.ID] = u
	}

	for _, l := range links {
		parent, ok := combined[l.FromUnit]
		if !ok {
			continue
		}
		neighbour, ok := neighbourByID[l.ToUnit]
		if !ok {
			continue
		}
		boost := 1.0
		if l.LinkType == engine.LinkCauses || l.LinkType == engine.LinkCausedBy {
			boost = temporalBoost
		}
		propagated := float64(parent.Score) * float64(l.Weight) * boost * temporalDecay
		neighbourProximity := temporalProximity(neighbour.BestTime(), window.Start, window.End, mid)
		score := propagated
		if float64(neighbourProximity) > score {
			score = float64(neighbourProximity)
		}
		if score < temporalDropBelow {
			continue
		}
		existing, present := combined[neighbour.ID]
		if present && float64(existing.Score) >= score {
			continue
		}
		combined[neighbour.ID] = engine.ScoredUnit{MemoryUnit: neighbour, Score: float32(score)}
	}

	return trimToTopProximity(combined, budget), nil
}

// temporalProximity scores t's closeness to [start,end]'s midpoint: 1 at
// the centre, 0 at either edge or outside the range.
func temporalProximity(t, start, end, mid int64) float32 {
	half := (end - start) / 2
	if half <= 0 {
		if t == mid {
			return 1
		}
		return 0
	}
	dist := t - mid
	if dist < 0 {
		dist = -dist
	}
	if dist >= half {
		return 0
	}
	return float32(1 - float64(dist)/float64(half))
}

func trimToTopProximity(combined map[string]engine.ScoredUnit, budget int) []engine.ScoredUnit {
	out := make([]engine.ScoredUnit, 0, len(combined))
	for _, u := range combined {
		out = append(out, u)
	}
	sortScoredUnitsDesc(out)
	if budget > 0 && len(out) > budget {
		out = out[:budget]
	}
	return out
}
