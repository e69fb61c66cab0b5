package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderConfigDefaultsCloud(t *testing.T) {
	c := ProviderConfig{Provider: ProviderOpenAI, Model: "gpt-4o", APIKey: "sk-test"}
	c.SetDefaults()
	assert.Equal(t, 16, c.MaxConcurrency, "cloud providers default to 16 concurrent requests")
	assert.Equal(t, 120, c.RequestTimeoutSeconds)
}

func TestProviderConfigDefaultsLocal(t *testing.T) {
	c := ProviderConfig{Provider: ProviderOllama, Model: "llama3", ParallelLanes: 2}
	c.SetDefaults()
	assert.Equal(t, 2, c.MaxConcurrency, "local concurrency is min(lanes, 4)")
}

func TestProviderConfigValidateRequiresAPIKey(t *testing.T) {
	c := ProviderConfig{Provider: ProviderAnthropic, Model: "claude"}
	require.Error(t, c.Validate())
}

func TestOllamaDoesNotRequireAPIKey(t *testing.T) {
	c := ProviderConfig{Provider: ProviderOllama, Model: "llama3"}
	require.NoError(t, c.Validate())
}

func TestParseModelURI(t *testing.T) {
	u, err := ParseModelURI("openai:gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, u.Provider)
	assert.Equal(t, "gpt-4o", u.Model)

	_, err = ParseModelURI("badformat")
	require.Error(t, err)
}

func TestJobConfigDefaults(t *testing.T) {
	var jc JobConfig
	jc.SetDefaults()
	assert.Equal(t, 5, jc.CheckpointEvery)
	assert.Equal(t, RouteDual, jc.RoutingFor(EntityClaim))
	assert.Equal(t, RouteLightweight, jc.RoutingFor(EntityPerson))
}

func TestJobConfigValidatePipelineStages(t *testing.T) {
	jc := JobConfig{Stages: []string{"mine", "bogus"}}
	jc.SetDefaults()
	require.Error(t, jc.Validate(JobPipeline))
}

func TestPriceTableEstimateCost(t *testing.T) {
	pt := PriceTable{"openai:gpt-4o": {PromptPer1K: 0.005, CompletionPer1K: 0.015}}
	assert.InDelta(t, 0.02, pt.EstimateCost("openai:gpt-4o", 1000, 1000), 1e-9)
	assert.Zero(t, pt.EstimateCost("unknown:model", 1000, 1000))
}
