package consolidate

import (
	"context"

	engine "github.com/membank/engine"
)

const (
	freshnessWindowDays = 30
	strengtheningRatio  = 1.5
	weakeningRatio      = 0.5
	secondsPerDay       = 86400
)

// freshnessStatus computes an Observation's freshness from its source
// memories' created_at timestamps against the now-relative 30-day recent
// window (§4.8). createdAts need not be sorted.
func freshnessStatus(createdAts []int64, now int64) engine.FreshnessStatus {
	if len(createdAts) == 0 {
		return engine.FreshnessStale
	}

	minT := createdAts[0]
	for _, t := range createdAts[1:] {
		if t < minT {
			minT = t
		}
	}

	spanDays := float64(now-minT) / secondsPerDay
	if spanDays < freshnessWindowDays {
		return engine.FreshnessNew
	}

	recentCutoff := now - freshnessWindowDays*secondsPerDay
	var recentCount, olderCount int
	for _, t := range createdAts {
		if t >= recentCutoff {
			recentCount++
		} else {
			olderCount++
		}
	}
	if recentCount == 0 {
		return engine.FreshnessStale
	}
	if olderCount == 0 {
		// spanDays >= 30 implies minT <= recentCutoff, so this shouldn't
		// occur in practice; treat as stable rather than divide by zero.
		return engine.FreshnessStable
	}

	olderPeriod := spanDays - freshnessWindowDays
	if olderPeriod < 1 {
		olderPeriod = 1 // floor against a near-30-day span blowing up the density ratio
	}
	recentDensity := float64(recentCount) / freshnessWindowDays
	olderDensity := float64(olderCount) / olderPeriod
	if olderDensity == 0 {
		return engine.FreshnessStrengthening
	}

	ratio := recentDensity / olderDensity
	switch {
	case ratio > strengtheningRatio:
		return engine.FreshnessStrengthening
	case ratio < weakeningRatio:
		return engine.FreshnessWeakening
	default:
		return engine.FreshnessStable
	}
}

// freshnessPass recomputes and persists freshness for every observation in
// bank, batch-updated once per consolidation iteration (§4.3 step 3, §4.8).
func freshnessPass(ctx context.Context, store engine.Store, bank string, now int64) error {
	observations, err := store.ListObservations(ctx, bank)
	if err != nil {
		return err
	}
	for _, obs := range observations {
		if len(obs.SourceMemoryIDs) == 0 {
			if obs.FreshnessStatus != engine.FreshnessStale {
				if err := store.SetFreshness(ctx, bank, obs.ID, engine.FreshnessStale); err != nil {
					return err
				}
			}
			continue
		}

		sources, err := store.GetUnitsByIDs(ctx, bank, obs.SourceMemoryIDs)
		if err != nil {
			return err
		}
		createdAts := make([]int64, len(sources))
		for i, s := range sources {
			createdAts[i] = s.CreatedAt
		}

		status := freshnessStatus(createdAts, now)
		if status != obs.FreshnessStatus {
			if err := store.SetFreshness(ctx, bank, obs.ID, status); err != nil {
				return err
			}
		}
	}
	return nil
}
