package store

// Source is a persistent record of an ingestible media item.
type Source struct {
	SourceID       string
	SourceType     string
	Title          string
	Uploader       string
	DurationS      *float64
	URL            *string
	FileHashSHA256 *string
	CreatedAt      string
}

// Episode is one processing unit, paired 1:1 with a Source.
type Episode struct {
	EpisodeID string
	Title     string
	Language  string
	CreatedAt string
}

// Segment is a timestamped slice of an episode's text.
type Segment struct {
	SegmentID string
	EpisodeID string
	StartS    float64
	EndS      float64
	Speaker   *string
	Text      string
	Seq       int
}

// EvidenceSpan is a character range in a segment supporting a claim.
type EvidenceSpan struct {
	SpanID    string
	ClaimID   string
	SegmentID string
	CharStart int
	CharEnd   int
	Quote     string
}

// Claim is an extracted proposition with its evidence spans.
type Claim struct {
	ClaimID       string
	EpisodeID     string
	SegmentID     string
	JobType       string
	CanonicalText string
	RawText       string
	Tier          string
	ScoringJSON   string
	CreatedAt     string
	Evidence      []EvidenceSpan
}

// Person is a named individual mentioned in an episode.
type Person struct {
	PersonID     string
	EpisodeID    string
	JobType      string
	DisplayName  string
	Role         *string
	MentionsJSON string
	Description  *string
	CreatedAt    string
}

// Concept is a mental model, framework, or theory.
type Concept struct {
	ConceptID              string
	EpisodeID              string
	JobType                string
	Name                   string
	Definition             string
	FirstSegmentID         string
	SupportingEvidenceJSON string
	CreatedAt              string
}

// JargonTerm is a domain-specific technical term.
type JargonTerm struct {
	JargonID       string
	EpisodeID      string
	JobType        string
	Term           string
	Definition     string
	FirstSegmentID string
	CreatedAt      string
}

// Relation is an optional typed edge between two claims.
type Relation struct {
	RelationID string
	EpisodeID  string
	JobType    string
	FromClaim  string
	ToClaim    string
	Kind       string
	Weight     float64
}

// PipelineOutputs is the bundle upsert_pipeline_outputs replaces atomically
// for a given (episode_id, job_type).
type PipelineOutputs struct {
	Claims    []Claim
	People    []Person
	Concepts  []Concept
	Jargon    []JargonTerm
	Relations []Relation
}

// EpisodeBundle is the result of get_episode_bundle: an episode with its
// segments in order.
type EpisodeBundle struct {
	Episode  Episode
	Segments []Segment
}

// ClaimSearchFilters narrows search_claims.
type ClaimSearchFilters struct {
	EpisodeID string
	MinTier   string
}

// Job is one unit of orchestrated work.
type Job struct {
	JobID      string
	JobType    string
	InputID    string
	ConfigJSON string
	Status     string
	CreatedAt  string
}

// JobRun is a single attempt at a Job; jobs may have several.
type JobRun struct {
	JobRunID        string
	JobID           string
	Status          string
	StartedAt       string
	CompletedAt     *string
	CheckpointJSON  *string
	MetricsJSON     *string
	ErrorCode       *string
	ErrorMessage    *string
}

// LLMRequest is an audit row written before each LLM call.
type LLMRequest struct {
	RequestID   string
	JobRunID    string
	Provider    string
	Model       string
	Temperature float64
	RequestJSON string
	CreatedAt   string
}

// LLMResponse is the audit row paired with an LLMRequest.
type LLMResponse struct {
	RequestID        string
	StatusCode       int
	CompletionTokens int
	PromptTokens     int
	TotalTokens      int
	LatencyMS        int64
	ResponseJSON     string
	ErrorMessage     *string
}
