// Package miner is the unified miner: given one segment, it makes a
// single LLM call that extracts four candidate sets — claims, people,
// jargon, concepts — as schema-validated JSON, with one bounded repair
// attempt on parse/schema failure.
package miner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knowledgechipper/core/pkg/errs"
	"github.com/knowledgechipper/core/pkg/llms"
	"github.com/knowledgechipper/core/pkg/schema"
	"github.com/knowledgechipper/core/pkg/store"
)

// ClaimCandidate is a raw, un-evaluated claim proposal. JSON tags
// let per-segment outputs round-trip through the store's staging table.
type ClaimCandidate struct {
	RawText       string `json:"raw_text"`
	CanonicalText string `json:"canonical_text"`
	CharStart     int    `json:"char_start"`
	CharEnd       int    `json:"char_end"`
}

// PersonCandidate is a raw person-mention proposal.
type PersonCandidate struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"`
	CharStart   int    `json:"char_start"`
	CharEnd     int    `json:"char_end"`
}

// JargonCandidate is a raw jargon-term proposal.
type JargonCandidate struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
}

// ConceptCandidate is a raw mental-model/concept proposal.
type ConceptCandidate struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
}

// Output is the MinerOutput for one segment: four raw,
// un-deduplicated candidate arrays.
type Output struct {
	SegmentID string             `json:"segment_id"`
	Claims    []ClaimCandidate   `json:"claims,omitempty"`
	People    []PersonCandidate  `json:"people,omitempty"`
	Jargon    []JargonCandidate  `json:"jargon,omitempty"`
	Concepts  []ConceptCandidate `json:"concepts,omitempty"`

	// ErrorCode is set (to errs.ValidationFailed) when the segment's output
	// had to fall back to empty candidate sets after a failed repair; it is
	// empty on a successful (possibly repaired) parse.
	ErrorCode errs.Code `json:"error_code,omitempty"`
}

// Miner extracts candidates from a single segment via one LLM call, repaired
// at most once on schema failure.
type Miner struct {
	provider    llms.Provider
	validator   *schema.Validator
	temperature float64
	maxTokens   int
}

// New builds a Miner. provider is the resolved miner_model; the
// caller is responsible for wrapping it with llms.NewAuditedProvider if
// request/response auditing is required.
func New(provider llms.Provider, validator *schema.Validator, temperature float64, maxTokens int) *Miner {
	return &Miner{provider: provider, validator: validator, temperature: temperature, maxTokens: maxTokens}
}

// wireOutput mirrors the JSON shape the miner prompt demands, so it can be
// unmarshalled directly from the LLM's text.
type wireOutput struct {
	Claims []struct {
		RawText       string `json:"raw_text"`
		CanonicalText string `json:"canonical_text"`
		CharStart     int    `json:"char_start"`
		CharEnd       int    `json:"char_end"`
	} `json:"claims"`
	People []struct {
		DisplayName string `json:"display_name"`
		Role        string `json:"role,omitempty"`
		CharStart   int    `json:"char_start"`
		CharEnd     int    `json:"char_end"`
	} `json:"people"`
	Jargon []struct {
		Term       string `json:"term"`
		Definition string `json:"definition"`
		CharStart  int    `json:"char_start"`
		CharEnd    int    `json:"char_end"`
	} `json:"jargon"`
	Concepts []struct {
		Name       string `json:"name"`
		Definition string `json:"definition"`
		CharStart  int    `json:"char_start"`
		CharEnd    int    `json:"char_end"`
	} `json:"concepts"`
}

// Mine runs the unified extraction call for one segment.
func (m *Miner) Mine(ctx context.Context, episodeTitle string, seg store.Segment) (*Output, error) {
	prompt := buildPrompt(episodeTitle, seg)

	raw, err := m.call(ctx, prompt)
	if err != nil {
		return nil, err
	}

	failure, verr := m.validator.Validate(schema.MinerOutput, raw)
	if verr != nil {
		return nil, verr
	}

	if failure != nil {
		repairPrompt := schema.RepairPrompt(failure, string(raw))
		raw, err = m.call(ctx, repairPrompt)
		if err != nil {
			return emptyOutput(seg.SegmentID), nil
		}
		failure, verr = m.validator.Validate(schema.MinerOutput, raw)
		if verr != nil {
			return nil, verr
		}
		if failure != nil {
			// After one failed repair the segment yields empty
			// candidates and is logged, but the pipeline continues.
			return emptyOutput(seg.SegmentID), nil
		}
	}

	var wire wireOutput
	if err := json.Unmarshal(raw, &wire); err != nil {
		return emptyOutput(seg.SegmentID), nil
	}

	return decodeAndValidateOffsets(seg, wire), nil
}

func (m *Miner) call(ctx context.Context, prompt string) ([]byte, error) {
	req := llms.GenerateRequest{
		Prompt:             prompt,
		Temperature:        m.temperature,
		MaxTokens:          m.maxTokens,
		ResponseSchemaName: string(schema.MinerOutput),
	}
	if raw, ok := m.validator.RawSchema(schema.MinerOutput); ok {
		req.ResponseSchemaJSON = raw
	}

	resp, err := m.provider.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return []byte(resp.Text), nil
}

func emptyOutput(segmentID string) *Output {
	return &Output{SegmentID: segmentID, ErrorCode: errs.ValidationFailed}
}

// buildPrompt assembles the miner prompt: segment text,
// episode title, speaker (if known), and instructions to cite evidence via
// character offsets into the provided segment text.
func buildPrompt(episodeTitle string, seg store.Segment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Episode: %s\n", episodeTitle)
	if seg.Speaker != nil && *seg.Speaker != "" {
		fmt.Fprintf(&b, "Speaker: %s\n", *seg.Speaker)
	}
	b.WriteString("Segment text (cite spans using 0-based character offsets into exactly this text):\n")
	b.WriteString(seg.Text)
	b.WriteString("\n\n")
	b.WriteString("Extract an object with four keys: claims, people, jargon, concepts. " +
		"Each is an array of typed records as described by the miner_output schema. " +
		"Every claim needs raw_text (verbatim as uttered), canonical_text (normalized), " +
		"char_start, char_end. Every person/jargon/concept needs its own fields plus " +
		"char_start/char_end locating supporting text in the segment. Respond with JSON only.")
	return b.String()
}

// decodeAndValidateOffsets converts the wire format into candidate structs,
// dropping (not repairing) any candidate whose offsets don't validate
// against the segment text.
func decodeAndValidateOffsets(seg store.Segment, wire wireOutput) *Output {
	out := &Output{SegmentID: seg.SegmentID}
	runeLen := len([]rune(seg.Text))

	for _, c := range wire.Claims {
		if !boundsValid(c.CharStart, c.CharEnd, runeLen) {
			continue
		}
		if !store.QuoteMatches(seg.Text, c.CharStart, c.CharEnd, c.RawText) {
			continue
		}
		out.Claims = append(out.Claims, ClaimCandidate{
			RawText: c.RawText, CanonicalText: c.CanonicalText,
			CharStart: c.CharStart, CharEnd: c.CharEnd,
		})
	}

	for _, p := range wire.People {
		if !boundsValid(p.CharStart, p.CharEnd, runeLen) {
			continue
		}
		var role string
		if p.Role != "" {
			role = p.Role
		}
		out.People = append(out.People, PersonCandidate{
			DisplayName: p.DisplayName, Role: role,
			CharStart: p.CharStart, CharEnd: p.CharEnd,
		})
	}

	for _, j := range wire.Jargon {
		if !boundsValid(j.CharStart, j.CharEnd, runeLen) {
			continue
		}
		if !store.QuoteMatches(seg.Text, j.CharStart, j.CharEnd, j.Term) {
			continue
		}
		out.Jargon = append(out.Jargon, JargonCandidate{
			Term: j.Term, Definition: j.Definition,
			CharStart: j.CharStart, CharEnd: j.CharEnd,
		})
	}

	for _, c := range wire.Concepts {
		if !boundsValid(c.CharStart, c.CharEnd, runeLen) {
			continue
		}
		out.Concepts = append(out.Concepts, ConceptCandidate{
			Name: c.Name, Definition: c.Definition,
			CharStart: c.CharStart, CharEnd: c.CharEnd,
		})
	}

	return out
}

func boundsValid(start, end, runeLen int) bool {
	return start >= 0 && end > start && end <= runeLen
}
