package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/errs"
	"github.com/knowledgechipper/core/pkg/miner"
	"github.com/knowledgechipper/core/pkg/store"
)

// minATierEvidenceLen is the minimum evidence-span length (runes) required
// for tier A.
const minATierEvidenceLen = 20

// ClaimInput bundles a raw claim candidate with the segment it was mined
// from, since evaluation needs the segment text to resolve evidence offsets
// into quotes.
type ClaimInput struct {
	miner.ClaimCandidate
	SegmentID   string
	SegmentText string
}

// EvaluateClaims tiers a set of raw claim candidates in batches, applying
// the dual/lightweight/flagship routing policy configured for
// config.EntityClaim.
func (r *Router) EvaluateClaims(ctx context.Context, episodeTitle string, inputs []ClaimInput) []store.Claim {
	var claims []store.Claim
	for _, batch := range chunkClaims(inputs, r.batchSize) {
		items := make([]promptItem, len(batch))
		for i, in := range batch {
			items[i] = promptItem{Ref: i, Label: fmt.Sprintf("claim: %q", in.RawText), SegmentText: in.SegmentText}
		}

		results, failed := r.evaluateBatch(ctx, config.EntityClaim, episodeTitle, items)
		if failed {
			claims = append(claims, fallbackClaimsAsTierC(batch)...)
			continue
		}
		claims = append(claims, tierClaims(batch, results)...)
	}
	return tieBreakClaims(claims)
}

func chunkClaims(inputs []ClaimInput, size int) [][]ClaimInput {
	if size <= 0 {
		size = 10
	}
	var chunks [][]ClaimInput
	for i := 0; i < len(inputs); i += size {
		end := i + size
		if end > len(inputs) {
			end = len(inputs)
		}
		chunks = append(chunks, inputs[i:end])
	}
	return chunks
}

// tierClaims applies the tiering rule to one evaluated batch, discarding
// candidates with invalid/empty evidence or a "reject" verdict.
func tierClaims(batch []ClaimInput, results []batchResult) []store.Claim {
	byRef := make(map[int]batchResult, len(results))
	for _, res := range results {
		byRef[res.Ref] = res
	}

	var out []store.Claim
	for i, in := range batch {
		res, ok := byRef[i]
		if !ok || res.Tier == "reject" {
			continue
		}

		spans := resolveEvidence(in.SegmentID, in.SegmentText, res.Evidence)
		if len(spans) == 0 {
			continue
		}
		maxLen := 0
		for _, s := range spans {
			if l := s.CharEnd - s.CharStart; l > maxLen {
				maxLen = l
			}
		}

		var tier string
		switch {
		case res.Score >= 0.80 && maxLen >= minATierEvidenceLen:
			tier = "A"
		case res.Score >= 0.50:
			tier = "B"
		default:
			// Relation extraction is out of scope for v1, so there is no
			// support graph to test low-score candidates against; every
			// non-rejected candidate with valid evidence is retained at C,
			// erring toward recall.
			tier = "C"
		}

		scoring, _ := json.Marshal(map[string]interface{}{
			"score": res.Score, "rationale": res.Rationale, "uncertain": res.Uncertain,
		})

		claimID := newID()
		for i := range spans {
			spans[i].ClaimID = claimID
		}

		out = append(out, store.Claim{
			ClaimID:       claimID,
			SegmentID:     in.SegmentID,
			CanonicalText: in.CanonicalText,
			RawText:       in.RawText,
			Tier:          tier,
			ScoringJSON:   string(scoring),
			Evidence:      spans,
		})
	}
	return out
}

// fallbackClaimsAsTierC is the evaluator-unreachable fallback: every input
// candidate still ends up in the store, tier C, with a scoring_json reason
// recording why.
func fallbackClaimsAsTierC(batch []ClaimInput) []store.Claim {
	out := make([]store.Claim, 0, len(batch))
	for _, in := range batch {
		claimID := newID()
		scoring, _ := json.Marshal(map[string]interface{}{
			"reason":     "evaluator_unreachable",
			"error_code": string(errs.EvaluationFailed),
		})

		var evidence []store.EvidenceSpan
		runes := []rune(in.SegmentText)
		if in.CharStart >= 0 && in.CharEnd > in.CharStart && in.CharEnd <= len(runes) {
			evidence = []store.EvidenceSpan{{
				SpanID: newID(), ClaimID: claimID, SegmentID: in.SegmentID,
				CharStart: in.CharStart, CharEnd: in.CharEnd,
				Quote: string(runes[in.CharStart:in.CharEnd]),
			}}
		}

		out = append(out, store.Claim{
			ClaimID:       claimID,
			SegmentID:     in.SegmentID,
			CanonicalText: in.CanonicalText,
			RawText:       in.RawText,
			Tier:          "C",
			ScoringJSON:   string(scoring),
			Evidence:      evidence,
		})
	}
	return out
}

// resolveEvidence converts decoded evidence offsets into store.EvidenceSpan
// rows, dropping any span whose offsets don't fit within segmentText.
func resolveEvidence(segmentID, segmentText string, spans []evidenceSpan) []store.EvidenceSpan {
	runes := []rune(segmentText)
	out := make([]store.EvidenceSpan, 0, len(spans))
	for _, s := range spans {
		if s.CharStart < 0 || s.CharEnd <= s.CharStart || s.CharEnd > len(runes) {
			continue
		}
		out = append(out, store.EvidenceSpan{
			SpanID:    newID(),
			SegmentID: segmentID,
			CharStart: s.CharStart,
			CharEnd:   s.CharEnd,
			Quote:     string(runes[s.CharStart:s.CharEnd]),
		})
	}
	return out
}

// tieBreakClaims: when two claims share canonical text, keep the one
// encountered first and merge the other's
// evidence spans into it. Input order is assumed to already reflect
// segment order (the pipeline aggregates candidates in segment order before
// calling into the evaluator), so "first encountered" is "earliest segment".
func tieBreakClaims(claims []store.Claim) []store.Claim {
	seen := make(map[string]int, len(claims))
	var out []store.Claim
	for _, c := range claims {
		if idx, ok := seen[c.CanonicalText]; ok {
			out[idx].Evidence = append(out[idx].Evidence, c.Evidence...)
			continue
		}
		seen[c.CanonicalText] = len(out)
		out = append(out, c)
	}
	return out
}
