package retain

import (
	"context"

	engine "github.com/membank/engine"
)

// dedupeMinScore is the cosine-similarity threshold above which a fact is
// treated as an existing duplicate (§4.1 step 3).
const dedupeMinScore = 0.9

// bucketHours is the width of the event-date dedup bucket.
const bucketHours = 12

// eventBucket computes the [start, end) window for the 12-hour bucket
// containing eventDate: hour 0-11 or 12-23 of that UTC calendar day.
// Facts straddling the boundary can be double-stored — a known soft limit
// (spec §9 Open Questions).
func eventBucket(eventDate int64) engine.TemporalWindow {
	dayStart := (eventDate / 86400) * 86400
	hour := (eventDate - dayStart) / 3600
	bucketIndex := hour / bucketHours
	start := dayStart + bucketIndex*bucketHours*3600
	return engine.TemporalWindow{Start: start, End: start + bucketHours*3600}
}

// isDuplicate checks whether u already exists per §4.1 step 3: event facts
// are bucketed by a 12-hour window of their event_date; conversation facts
// are checked bank-wide against other conversation-kind units.
func isDuplicate(ctx context.Context, store engine.Store, u engine.MemoryUnit) (bool, error) {
	var window *engine.TemporalWindow
	if u.FactKind == engine.KindEvent && u.EventDate != nil {
		w := eventBucket(*u.EventDate)
		window = &w
	}
	_, found, err := store.FindSimilarUnit(ctx, u.Bank, u.FactKind, window, u.Embedding, dedupeMinScore)
	if err != nil {
		return false, err
	}
	return found, nil
}
