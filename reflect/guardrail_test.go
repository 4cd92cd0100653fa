package reflect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckEvidenceRejectsEmptyNonTerminalDone(t *testing.T) {
	available := newAvailableIDs()
	err := checkEvidence(doneArgs{}, available, false)
	assert.Error(t, err)
}

func TestCheckEvidenceAllowsEmptyOnLastIteration(t *testing.T) {
	available := newAvailableIDs()
	err := checkEvidence(doneArgs{}, available, true)
	assert.NoError(t, err)
}

func TestCheckEvidenceAllowsCitedEvidence(t *testing.T) {
	available := newAvailableIDs()
	err := checkEvidence(doneArgs{ObservationIDs: []string{"obs-1"}}, available, false)
	assert.NoError(t, err)
}

func TestCheckEvidenceAllowsEmptyCitationsWhenSomethingWasGathered(t *testing.T) {
	available := newAvailableIDs()
	available.memory["m1"] = true
	err := checkEvidence(doneArgs{}, available, false)
	assert.NoError(t, err)
}

func TestValidateIDsDropsUnknownIDs(t *testing.T) {
	available := newAvailableIDs()
	available.memory["m1"] = true
	out := validateIDs(doneArgs{MemoryIDs: []string{"m1", "m2"}}, available, nil)
	assert.Equal(t, []string{"m1"}, out.MemoryIDs)
}
