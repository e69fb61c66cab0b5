package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMinerOutputAccepts(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	raw := []byte(`{
		"claims": [{"raw_text":"x","canonical_text":"x","char_start":0,"char_end":1}],
		"people": [],
		"jargon": [],
		"concepts": []
	}`)
	failure, err := v.Validate(MinerOutput, raw)
	require.NoError(t, err)
	assert.Nil(t, failure)
}

func TestValidateMinerOutputRejectsMissingKey(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	failure, err := v.Validate(MinerOutput, []byte(`{"claims": [], "people": [], "jargon": []}`))
	require.NoError(t, err)
	assert.NotNil(t, failure, "missing 'concepts' key must fail validation")
}

func TestValidateRejectsNonJSON(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	failure, err := v.Validate(MinerOutput, []byte("not json"))
	require.NoError(t, err)
	assert.NotNil(t, failure)
}

func TestValidateEvaluatorBatch(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	raw := []byte(`{"results":[{"ref":0,"score":0.9,"tier":"A","rationale":"strong evidence","evidence":[{"char_start":0,"char_end":5}]}]}`)
	failure, err := v.Validate(EvaluatorBatch, raw)
	require.NoError(t, err)
	assert.Nil(t, failure)
}

func TestRepairPromptNamesSchemaAndFields(t *testing.T) {
	failure := &ValidationFailure{Schema: MinerOutput, Messages: []string{"/concepts: missing"}}
	prompt := RepairPrompt(failure, `{"bad": true}`)
	assert.Contains(t, prompt, "miner_output")
	assert.Contains(t, prompt, "/concepts: missing")
	assert.Contains(t, prompt, "no prose")
}
