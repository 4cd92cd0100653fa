package consolidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAdjudicationCreateAction(t *testing.T) {
	d, ok, err := parseAdjudication(`[{"action":"create","text":"prefers tea over coffee"}]`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "create", d.Action)
	assert.Equal(t, "prefers tea over coffee", d.Text)
}

func TestParseAdjudicationEmptyArrayMeansNoDurableKnowledge(t *testing.T) {
	_, ok, err := parseAdjudication(`[]`)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseAdjudicationUnknownActionIsIgnored(t *testing.T) {
	_, ok, err := parseAdjudication(`[{"action":"delete"}]`)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseAdjudicationExtractsFromSurroundingProse(t *testing.T) {
	resp := "Here is my decision:\n```json\n[{\"action\":\"update\",\"learning_id\":\"obs-1\",\"text\":\"now prefers coffee\",\"reason\":\"changed habit\"}]\n```\nDone."
	d, ok, err := parseAdjudication(resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "update", d.Action)
	assert.Equal(t, "obs-1", d.LearningID)
}

func TestParseAdjudicationMalformedResponseIsNotAnError(t *testing.T) {
	_, ok, err := parseAdjudication("not json at all")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFirstBalancedArrayIgnoresBracketsInStrings(t *testing.T) {
	sub, ok := firstBalancedArray(`prefix [{"text":"a [bracket] inside"}] suffix`)
	require.True(t, ok)
	assert.Equal(t, `[{"text":"a [bracket] inside"}]`, sub)
}

func TestFirstBalancedArrayNoOpenBracket(t *testing.T) {
	_, ok := firstBalancedArray("no arrays here")
	assert.False(t, ok)
}
