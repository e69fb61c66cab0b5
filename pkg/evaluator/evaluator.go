// Package evaluator routes raw miner candidates to a lightweight or
// flagship LLM evaluator per entity kind and emits tiered, persist-ready
// entities with evidence spans and rationale.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/errs"
	"github.com/knowledgechipper/core/pkg/llms"
	"github.com/knowledgechipper/core/pkg/schema"
)

// Router evaluates and tiers candidates by routing each batch to the
// lightweight or flagship provider according to a per-entity-kind policy
//.
type Router struct {
	lightweight llms.Provider
	flagship    llms.Provider
	validator   *schema.Validator
	routing     map[config.EntityKind]config.RoutingPolicy
	band        config.UncertaintyBand
	batchSize   int
	maxTokens   int
}

// Option configures a Router.
type Option func(*Router)

func WithBatchSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

// New builds a Router. lightweight and flagship are the resolved providers
// for job config's lightweight_model/flagship_model; routing maps
// entity kind to policy; band is the dual-routing uncertainty
// band (default 0.4..0.6).
func New(lightweight, flagship llms.Provider, validator *schema.Validator, routing map[config.EntityKind]config.RoutingPolicy, band config.UncertaintyBand, opts ...Option) *Router {
	r := &Router{
		lightweight: lightweight,
		flagship:    flagship,
		validator:   validator,
		routing:     routing,
		band:        band,
		batchSize:   10,
		maxTokens:   4096,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// evidenceSpan is a decoded evaluator-cited span, offsets relative to the
// segment text the candidate came from.
type evidenceSpan struct {
	CharStart int
	CharEnd   int
}

// batchResult is one decoded entry of an EvaluatorBatch response.
type batchResult struct {
	Ref       int
	Score     float64
	Tier      string
	Uncertain bool
	Rationale string
	Evidence  []evidenceSpan
}

// promptItem is one candidate rendered into a batch evaluation prompt.
type promptItem struct {
	Ref         int
	Label       string
	SegmentText string
}

type evaluatorBatchWire struct {
	Results []struct {
		Ref       int     `json:"ref"`
		Score     float64 `json:"score"`
		Tier      string  `json:"tier"`
		Uncertain bool    `json:"uncertain"`
		Rationale string  `json:"rationale"`
		Evidence  []struct {
			CharStart int `json:"char_start"`
			CharEnd   int `json:"char_end"`
		} `json:"evidence"`
	} `json:"results"`
}

// callBatch sends one batch prompt to provider, validating and single-shot
// repairing the response against the EvaluatorBatch schema.
func (r *Router) callBatch(ctx context.Context, provider llms.Provider, episodeTitle string, kind config.EntityKind, items []promptItem) ([]batchResult, error) {
	prompt := buildBatchPrompt(episodeTitle, kind, items)

	raw, err := r.call(ctx, provider, prompt)
	if err != nil {
		return nil, err
	}

	failure, verr := r.validator.Validate(schema.EvaluatorBatch, raw)
	if verr != nil {
		return nil, verr
	}
	if failure != nil {
		raw, err = r.call(ctx, provider, schema.RepairPrompt(failure, string(raw)))
		if err != nil {
			return nil, err
		}
		failure, verr = r.validator.Validate(schema.EvaluatorBatch, raw)
		if verr != nil {
			return nil, verr
		}
		if failure != nil {
			return nil, errs.New(errs.ValidationFailed, "evaluator: batch output failed schema after repair")
		}
	}

	var wire evaluatorBatchWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errs.Wrap(errs.LLMParseError, "evaluator: decode batch result", err)
	}

	results := make([]batchResult, 0, len(wire.Results))
	for _, res := range wire.Results {
		ev := make([]evidenceSpan, 0, len(res.Evidence))
		for _, e := range res.Evidence {
			ev = append(ev, evidenceSpan{CharStart: e.CharStart, CharEnd: e.CharEnd})
		}
		results = append(results, batchResult{
			Ref: res.Ref, Score: res.Score, Tier: res.Tier,
			Uncertain: res.Uncertain, Rationale: res.Rationale, Evidence: ev,
		})
	}
	return results, nil
}

func (r *Router) call(ctx context.Context, provider llms.Provider, prompt string) ([]byte, error) {
	req := llms.GenerateRequest{
		Prompt:             prompt,
		Temperature:        0,
		MaxTokens:          r.maxTokens,
		ResponseSchemaName: string(schema.EvaluatorBatch),
	}
	if raw, ok := r.validator.RawSchema(schema.EvaluatorBatch); ok {
		req.ResponseSchemaJSON = raw
	}
	resp, err := provider.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return []byte(resp.Text), nil
}

// evaluateBatch implements the routing policy for one batch: flagship/
// lightweight always use that provider; dual uses lightweight first and
// promotes only the uncertain-or-in-band items to a second flagship call
//. The second bool return is true iff the batch could not be
// evaluated at all (every provider attempt failed), in which case the
// caller applies the evaluator-unreachable fallback policy.
func (r *Router) evaluateBatch(ctx context.Context, kind config.EntityKind, episodeTitle string, items []promptItem) ([]batchResult, bool) {
	policy := r.routing[kind]

	switch policy {
	case config.RouteFlagship:
		res, err := r.callBatch(ctx, r.flagship, episodeTitle, kind, items)
		if err != nil {
			return nil, true
		}
		return res, false

	case config.RouteLightweight:
		res, err := r.callBatch(ctx, r.lightweight, episodeTitle, kind, items)
		if err != nil {
			return nil, true
		}
		return res, false

	default: // RouteDual
		return r.evaluateDual(ctx, kind, episodeTitle, items)
	}
}

func (r *Router) evaluateDual(ctx context.Context, kind config.EntityKind, episodeTitle string, items []promptItem) ([]batchResult, bool) {
	res, err := r.callBatch(ctx, r.lightweight, episodeTitle, kind, items)
	if err != nil {
		// Lightweight unreachable: fall all the way back to flagship for the
		// whole batch rather than abandoning it.
		res2, err2 := r.callBatch(ctx, r.flagship, episodeTitle, kind, items)
		if err2 != nil {
			return nil, true
		}
		return res2, false
	}

	promote := make(map[int]bool)
	for _, rr := range res {
		if rr.Uncertain || (rr.Score >= r.band.Low && rr.Score <= r.band.High) {
			promote[rr.Ref] = true
		}
	}
	if len(promote) == 0 {
		return res, false
	}

	var promoted []promptItem
	for _, it := range items {
		if promote[it.Ref] {
			promoted = append(promoted, it)
		}
	}

	flagshipRes, err := r.callBatch(ctx, r.flagship, episodeTitle, kind, promoted)
	if err != nil {
		// Flagship promotion failed; keep the lightweight verdicts rather
		// than failing results that did come back.
		return res, false
	}

	byRef := make(map[int]batchResult, len(flagshipRes))
	for _, fr := range flagshipRes {
		byRef[fr.Ref] = fr
	}
	merged := make([]batchResult, 0, len(res))
	for _, rr := range res {
		if fr, ok := byRef[rr.Ref]; ok {
			merged = append(merged, fr)
			continue
		}
		merged = append(merged, rr)
	}
	return merged, false
}

func buildBatchPrompt(episodeTitle string, kind config.EntityKind, items []promptItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Episode: %s\nEvaluate the following %s candidates.\n\n", episodeTitle, kind)
	for _, it := range items {
		fmt.Fprintf(&b, "[%d] %s\nSource text: %s\n\n", it.Ref, it.Label, it.SegmentText)
	}
	b.WriteString("Return an object with a \"results\" array, one entry per candidate index (\"ref\"), " +
		"each with score (0..1), tier (\"A\"|\"B\"|\"C\"|\"reject\"), uncertain (bool), rationale, " +
		"and evidence (array of {char_start, char_end} offsets into that candidate's source text). " +
		"Respond with JSON only.")
	return b.String()
}

func newID() string { return uuid.NewString() }
