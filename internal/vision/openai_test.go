package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

func TestParseVerdict_PlainJSON(t *testing.T) {
	r, err := ParseVerdict(`{"valid": false, "issues": [{"type":"overlap","severity":"critical","description":"A on B"}], "suggestions": ["spread nodes"]}`)
	require.NoError(t, err)
	assert.False(t, r.Valid)
	require.Len(t, r.Issues, 1)
	assert.Equal(t, schema.SeverityCritical, r.Issues[0].Severity)
	assert.Equal(t, []string{"spread nodes"}, r.Suggestions)
}

func TestParseVerdict_FencedJSON(t *testing.T) {
	r, err := ParseVerdict("Here is my assessment:\n```json\n{\"valid\": true, \"issues\": []}\n```\n")
	require.NoError(t, err)
	assert.True(t, r.Valid)
}

func TestParseVerdict_NormalizesVerdict(t *testing.T) {
	// The model claimed valid despite a critical issue; the verdict
	// invariant wins.
	r, err := ParseVerdict(`{"valid": true, "issues": [{"type":"overlap","severity":"critical","description":"x"}]}`)
	require.NoError(t, err)
	assert.False(t, r.Valid)

	// And the other way around: only warnings means valid.
	r, err = ParseVerdict(`{"valid": false, "issues": [{"type":"label","severity":"warning","description":"x"}]}`)
	require.NoError(t, err)
	assert.True(t, r.Valid)
}

func TestParseVerdict_Garbage(t *testing.T) {
	_, err := ParseVerdict("I cannot see any image.")
	require.Error(t, err)
	var be *schema.BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, schema.ErrCodeValidation, be.Code)
}
