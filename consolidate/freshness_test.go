package consolidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFreshnessStatusNewUnderWindow(t *testing.T) {
	now := int64(1000 * secondsPerDay)
	status := freshnessStatus([]int64{now - 5*secondsPerDay}, now)
	assert.Equal(t, "new", string(status))
}

func TestFreshnessStatusStaleWithNoRecentEvidence(t *testing.T) {
	now := int64(1000 * secondsPerDay)
	createdAts := []int64{now - 100*secondsPerDay, now - 90*secondsPerDay}
	assert.Equal(t, "stale", string(freshnessStatus(createdAts, now)))
}

func TestFreshnessStatusStrengtheningWithRecentBurst(t *testing.T) {
	now := int64(1000 * secondsPerDay)
	var createdAts []int64
	// one old data point 60 days back, ten in the last 30 days.
	createdAts = append(createdAts, now-60*secondsPerDay)
	for i := 0; i < 10; i++ {
		createdAts = append(createdAts, now-int64(i)*secondsPerDay)
	}
	assert.Equal(t, "strengthening", string(freshnessStatus(createdAts, now)))
}

func TestFreshnessStatusWeakeningWithOldBurst(t *testing.T) {
	now := int64(1000 * secondsPerDay)
	var createdAts []int64
	for i := 0; i < 10; i++ {
		createdAts = append(createdAts, now-60*secondsPerDay-int64(i)*secondsPerDay)
	}
	createdAts = append(createdAts, now-1*secondsPerDay)
	assert.Equal(t, "weakening", string(freshnessStatus(createdAts, now)))
}

func TestFreshnessStatusEmptyEvidenceIsStale(t *testing.T) {
	assert.Equal(t, "stale", string(freshnessStatus(nil, 100)))
}
