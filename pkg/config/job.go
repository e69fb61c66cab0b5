package config

import "fmt"

// JobType enumerates the orchestrator's job types.
type JobType string

const (
	JobTranscribe JobType = "transcribe"
	JobMine       JobType = "mine"
	JobFlagship   JobType = "flagship"
	JobPipeline   JobType = "pipeline"
)

// RoutingPolicy is a candidate's routing decision for the Evaluator/Router
//.
type RoutingPolicy string

const (
	RouteFlagship    RoutingPolicy = "flagship"
	RouteLightweight RoutingPolicy = "lightweight"
	RouteDual        RoutingPolicy = "dual"
)

// EntityKind enumerates the four candidate kinds the Unified Miner extracts
//.
type EntityKind string

const (
	EntityClaim   EntityKind = "claims"
	EntityPerson  EntityKind = "people"
	EntityJargon  EntityKind = "jargon"
	EntityConcept EntityKind = "concepts"
)

// UncertaintyBand is the lightweight score range that triggers promotion to
// flagship under dual routing.
type UncertaintyBand struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// DefaultUncertaintyBand is the default dual-routing promotion band.
func DefaultUncertaintyBand() UncertaintyBand {
	return UncertaintyBand{Low: 0.4, High: 0.6}
}

// JobConfig is the JSON-serializable configuration object for a Job. It is
// stored verbatim as Job.config_json.
type JobConfig struct {
	// Stages is the ordered list of stages for job_type=pipeline.
	Stages []string `yaml:"stages,omitempty" json:"stages,omitempty"`

	MinerModel       string `yaml:"miner_model,omitempty" json:"miner_model,omitempty"`
	FlagshipModel    string `yaml:"flagship_model,omitempty" json:"flagship_model,omitempty"`
	LightweightModel string `yaml:"lightweight_model,omitempty" json:"lightweight_model,omitempty"`

	// RoutingPolicy maps entity kind -> RoutingPolicy.
	RoutingPolicy map[EntityKind]RoutingPolicy `yaml:"routing_policy,omitempty" json:"routing_policy,omitempty"`

	// MaxWorkers hard-caps the Resource Governor's recommendation (0 = unset).
	MaxWorkers int `yaml:"max_workers,omitempty" json:"max_workers,omitempty"`

	// CheckpointEvery is the checkpoint interval in completed segments
	// (default 5).
	CheckpointEvery int `yaml:"checkpoint_every,omitempty" json:"checkpoint_every,omitempty"`

	Temperature     float64          `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	RequestTimeoutS int              `yaml:"request_timeout_s,omitempty" json:"request_timeout_s,omitempty"`
	UncertaintyBand *UncertaintyBand `yaml:"uncertainty_band,omitempty" json:"uncertainty_band,omitempty"`
}

// SetDefaults fills in defaults.
func (c *JobConfig) SetDefaults() {
	if c.CheckpointEvery == 0 {
		c.CheckpointEvery = 5
	}
	if c.RequestTimeoutS == 0 {
		c.RequestTimeoutS = 120
	}
	if c.UncertaintyBand == nil {
		band := DefaultUncertaintyBand()
		c.UncertaintyBand = &band
	}
	if c.RoutingPolicy == nil {
		c.RoutingPolicy = map[EntityKind]RoutingPolicy{
			EntityClaim:   RouteDual,
			EntityPerson:  RouteLightweight,
			EntityJargon:  RouteLightweight,
			EntityConcept: RouteLightweight,
		}
	}
}

// RoutingFor returns the configured routing policy for kind, defaulting to
// lightweight when unset.
func (c *JobConfig) RoutingFor(kind EntityKind) RoutingPolicy {
	if p, ok := c.RoutingPolicy[kind]; ok {
		return p
	}
	return RouteLightweight
}

// Validate checks the job config for internal consistency.
func (c *JobConfig) Validate(jobType JobType) error {
	if jobType == JobPipeline {
		if len(c.Stages) == 0 {
			return fmt.Errorf("config: pipeline jobs require a non-empty stages list")
		}
		for _, s := range c.Stages {
			switch JobType(s) {
			case JobTranscribe, JobMine, JobFlagship:
			default:
				return fmt.Errorf("config: unsupported pipeline stage %q", s)
			}
		}
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("config: checkpoint_every must be non-negative")
	}
	if c.UncertaintyBand != nil {
		if c.UncertaintyBand.Low < 0 || c.UncertaintyBand.High > 1 || c.UncertaintyBand.Low > c.UncertaintyBand.High {
			return fmt.Errorf("config: invalid uncertainty_band [%v, %v]", c.UncertaintyBand.Low, c.UncertaintyBand.High)
		}
	}
	return nil
}

// PriceTable maps "provider:model" URIs to a USD-per-1000-token rate,
// supporting the cost-accounting and dry-run estimate features.
type PriceTable map[string]ModelPrice

// ModelPrice is the per-1000-token price for prompt and completion tokens.
type ModelPrice struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k" json:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k" json:"completion_per_1k"`
}

// EstimateCost returns the estimated USD cost for the given token counts.
func (t PriceTable) EstimateCost(modelURI string, promptTokens, completionTokens int) float64 {
	price, ok := t[modelURI]
	if !ok {
		return 0
	}
	return (float64(promptTokens)/1000)*price.PromptPer1K + (float64(completionTokens)/1000)*price.CompletionPer1K
}
