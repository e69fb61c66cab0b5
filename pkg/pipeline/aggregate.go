package pipeline

import (
	"strings"

	"github.com/knowledgechipper/core/pkg/evaluator"
	"github.com/knowledgechipper/core/pkg/miner"
	"github.com/knowledgechipper/core/pkg/store"
)

// aggregated is the flattened, cross-segment-deduplicated candidate set
// handed to the Evaluator/Router, built from every segment's Output in
// segment order.
type aggregated struct {
	Claims   []evaluator.ClaimInput
	People   []evaluator.PersonInput
	Jargon   []evaluator.JargonInput
	Concepts []evaluator.ConceptInput
}

// segmentProximityWindow bounds how many segments apart two same-canonical-
// text claims can be and still be treated as the same candidate.
// Candidates further apart than
// this are kept as independent claims, since a speaker repeating a claim
// much later in the episode is meaningfully distinct evidence.
const segmentProximityWindow = 3

// aggregate flattens per-segment miner outputs, in segment order, and drops
// cross-segment duplicate claims (same canonical text within
// segmentProximityWindow segments of each other), keeping the first
// occurrence's candidate and merging nothing else in — evidence from the
// dropped duplicate is simply not carried forward, since at this stage
// candidates don't yet have persisted evidence spans to merge (that merge
// happens post-evaluation, in evaluator.tieBreakClaims, for same-text claims
// that survive independently-of-proximity).
func aggregate(outputs []*miner.Output, segByID map[string]store.Segment, seq map[string]int) aggregated {
	var out aggregated

	type seenClaim struct {
		text string
		seq  int
	}
	var seenClaims []seenClaim

	for _, o := range outputs {
		seg := segByID[o.SegmentID]
		segSeq := seq[o.SegmentID]

		for _, c := range o.Claims {
			dup := false
			key := strings.ToLower(strings.TrimSpace(c.CanonicalText))
			for _, sc := range seenClaims {
				if sc.text == key && abs(segSeq-sc.seq) <= segmentProximityWindow {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			seenClaims = append(seenClaims, seenClaim{text: key, seq: segSeq})
			out.Claims = append(out.Claims, evaluator.ClaimInput{
				ClaimCandidate: c, SegmentID: o.SegmentID, SegmentText: seg.Text,
			})
		}

		for _, p := range o.People {
			out.People = append(out.People, evaluator.PersonInput{
				PersonCandidate: p, SegmentID: o.SegmentID, SegmentText: seg.Text,
			})
		}
		for _, j := range o.Jargon {
			out.Jargon = append(out.Jargon, evaluator.JargonInput{
				JargonCandidate: j, SegmentID: o.SegmentID, SegmentText: seg.Text,
			})
		}
		for _, c := range o.Concepts {
			out.Concepts = append(out.Concepts, evaluator.ConceptInput{
				ConceptCandidate: c, SegmentID: o.SegmentID, SegmentText: seg.Text,
			})
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
