package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/miner"
	"github.com/knowledgechipper/core/pkg/store"
)

// personRejectScore/jargonRejectScore/conceptRejectScore are the score
// thresholds below which an evaluated Person/JargonTerm/Concept candidate is
// discarded. Unlike claims, these three kinds have no Tier
// column (pkg/store/types.go), so there is no A/B/C to assign — a candidate
// either clears the bar and is kept, or it doesn't.
const (
	personRejectScore  = 0.50
	jargonRejectScore  = 0.50
	conceptRejectScore = 0.50
)

// jargonStoplist rejects common words a miner might over-eagerly tag as
// jargon; this is the deterministic half of the jargon rubric that still
// applies even when the evaluator is unreachable.
var jargonStoplist = map[string]bool{
	"the": true, "and": true, "data": true, "model": true, "system": true,
}

// PersonInput bundles a raw person candidate with its source segment.
type PersonInput struct {
	miner.PersonCandidate
	SegmentID   string
	SegmentText string
}

// JargonInput bundles a raw jargon candidate with its source segment.
type JargonInput struct {
	miner.JargonCandidate
	SegmentID   string
	SegmentText string
}

// ConceptInput bundles a raw concept candidate with its source segment.
type ConceptInput struct {
	miner.ConceptCandidate
	SegmentID   string
	SegmentText string
}

// EvaluatePeople scores and filters person candidates. On evaluator failure
// it falls back to the deterministic check alone (non-empty display name and
// at least one bounded mention), accepting rather than dropping — candidates
// are never silently discarded just because the evaluator was unreachable,
// and Person has no tier field to record a degraded verdict on.
func (r *Router) EvaluatePeople(ctx context.Context, episodeTitle string, inputs []PersonInput) []store.Person {
	var out []store.Person
	for _, batch := range chunkPeople(inputs, r.batchSize) {
		items := make([]promptItem, len(batch))
		for i, in := range batch {
			items[i] = promptItem{Ref: i, Label: fmt.Sprintf("person: %q (role: %s)", in.DisplayName, in.Role), SegmentText: in.SegmentText}
		}

		results, failed := r.evaluateBatch(ctx, config.EntityPerson, episodeTitle, items)
		if failed {
			for _, in := range batch {
				if p, ok := personFromDeterministicCheck(in); ok {
					out = append(out, p)
				}
			}
			continue
		}

		byRef := make(map[int]batchResult, len(results))
		for _, res := range results {
			byRef[res.Ref] = res
		}
		for i, in := range batch {
			res, ok := byRef[i]
			if !ok || res.Tier == "reject" || res.Score < personRejectScore {
				continue
			}
			out = append(out, personFromCandidate(in, res))
		}
	}
	return mergePeople(out)
}

func personFromDeterministicCheck(in PersonInput) (store.Person, bool) {
	if strings.TrimSpace(in.DisplayName) == "" {
		return store.Person{}, false
	}
	if in.CharStart < 0 || in.CharEnd <= in.CharStart || in.CharEnd > len([]rune(in.SegmentText)) {
		return store.Person{}, false
	}
	return personFromCandidate(in, batchResult{}), true
}

func personFromCandidate(in PersonInput, res batchResult) store.Person {
	var role *string
	if in.Role != "" {
		r := in.Role
		role = &r
	}
	mentions, _ := json.Marshal([]map[string]interface{}{
		{"segment_id": in.SegmentID, "char_start": in.CharStart, "char_end": in.CharEnd},
	})
	return store.Person{
		PersonID:     newID(),
		DisplayName:  in.DisplayName,
		Role:         role,
		MentionsJSON: string(mentions),
	}
}

// mergePeople folds mentions of repeated display names (case-insensitive)
// into a single Person row. The miner has no cross-segment memory, so the
// same person surfaces once per segment they're mentioned in.
func mergePeople(people []store.Person) []store.Person {
	seen := make(map[string]int, len(people))
	var out []store.Person
	for _, p := range people {
		key := strings.ToLower(strings.TrimSpace(p.DisplayName))
		if idx, ok := seen[key]; ok {
			out[idx].MentionsJSON = mergeJSONArrays(out[idx].MentionsJSON, p.MentionsJSON)
			if out[idx].Role == nil && p.Role != nil {
				out[idx].Role = p.Role
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, p)
	}
	return out
}

func mergeJSONArrays(a, b string) string {
	var av, bv []json.RawMessage
	_ = json.Unmarshal([]byte(a), &av)
	_ = json.Unmarshal([]byte(b), &bv)
	merged, _ := json.Marshal(append(av, bv...))
	return string(merged)
}

func chunkPeople(inputs []PersonInput, size int) [][]PersonInput {
	if size <= 0 {
		size = 10
	}
	var chunks [][]PersonInput
	for i := 0; i < len(inputs); i += size {
		end := i + size
		if end > len(inputs) {
			end = len(inputs)
		}
		chunks = append(chunks, inputs[i:end])
	}
	return chunks
}

// EvaluateJargon scores and filters jargon candidates, applying the stoplist
// regardless of evaluator reachability.
func (r *Router) EvaluateJargon(ctx context.Context, episodeTitle string, inputs []JargonInput) []store.JargonTerm {
	var out []store.JargonTerm
	for _, batch := range chunkJargon(inputs, r.batchSize) {
		items := make([]promptItem, len(batch))
		for i, in := range batch {
			items[i] = promptItem{Ref: i, Label: fmt.Sprintf("jargon: %q", in.Term), SegmentText: in.SegmentText}
		}

		results, failed := r.evaluateBatch(ctx, config.EntityJargon, episodeTitle, items)
		if failed {
			for _, in := range batch {
				if passesJargonStoplist(in.Term) {
					out = append(out, jargonFromCandidate(in))
				}
			}
			continue
		}

		byRef := make(map[int]batchResult, len(results))
		for _, res := range results {
			byRef[res.Ref] = res
		}
		for i, in := range batch {
			if !passesJargonStoplist(in.Term) {
				continue
			}
			res, ok := byRef[i]
			if !ok || res.Tier == "reject" || res.Score < jargonRejectScore {
				continue
			}
			out = append(out, jargonFromCandidate(in))
		}
	}
	return mergeJargon(out)
}

func passesJargonStoplist(term string) bool {
	return !jargonStoplist[strings.ToLower(strings.TrimSpace(term))]
}

func jargonFromCandidate(in JargonInput) store.JargonTerm {
	return store.JargonTerm{
		JargonID:       newID(),
		Term:           in.Term,
		Definition:     in.Definition,
		FirstSegmentID: in.SegmentID,
	}
}

func mergeJargon(terms []store.JargonTerm) []store.JargonTerm {
	seen := make(map[string]bool, len(terms))
	var out []store.JargonTerm
	for _, t := range terms {
		key := strings.ToLower(strings.TrimSpace(t.Term))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func chunkJargon(inputs []JargonInput, size int) [][]JargonInput {
	if size <= 0 {
		size = 10
	}
	var chunks [][]JargonInput
	for i := 0; i < len(inputs); i += size {
		end := i + size
		if end > len(inputs) {
			end = len(inputs)
		}
		chunks = append(chunks, inputs[i:end])
	}
	return chunks
}

// minConceptDefinitionWords is the deterministic floor a concept's
// definition must clear (word count) regardless of evaluator reachability
//").
const minConceptDefinitionWords = 10

// EvaluateConcepts scores and filters concept candidates.
func (r *Router) EvaluateConcepts(ctx context.Context, episodeTitle string, inputs []ConceptInput) []store.Concept {
	var out []store.Concept
	for _, batch := range chunkConcepts(inputs, r.batchSize) {
		items := make([]promptItem, len(batch))
		for i, in := range batch {
			items[i] = promptItem{Ref: i, Label: fmt.Sprintf("concept: %q — %s", in.Name, in.Definition), SegmentText: in.SegmentText}
		}

		results, failed := r.evaluateBatch(ctx, config.EntityConcept, episodeTitle, items)
		if failed {
			for _, in := range batch {
				if passesConceptWordFloor(in.Definition) {
					out = append(out, conceptFromCandidate(in))
				}
			}
			continue
		}

		byRef := make(map[int]batchResult, len(results))
		for _, res := range results {
			byRef[res.Ref] = res
		}
		for i, in := range batch {
			if !passesConceptWordFloor(in.Definition) {
				continue
			}
			res, ok := byRef[i]
			if !ok || res.Tier == "reject" || res.Score < conceptRejectScore {
				continue
			}
			out = append(out, conceptFromCandidate(in))
		}
	}
	return mergeConcepts(out)
}

func passesConceptWordFloor(definition string) bool {
	return len(strings.Fields(definition)) >= minConceptDefinitionWords
}

func conceptFromCandidate(in ConceptInput) store.Concept {
	evidence, _ := json.Marshal([]map[string]interface{}{
		{"segment_id": in.SegmentID, "char_start": in.CharStart, "char_end": in.CharEnd},
	})
	return store.Concept{
		ConceptID:              newID(),
		Name:                   in.Name,
		Definition:             in.Definition,
		FirstSegmentID:         in.SegmentID,
		SupportingEvidenceJSON: string(evidence),
	}
}

func mergeConcepts(concepts []store.Concept) []store.Concept {
	seen := make(map[string]bool, len(concepts))
	var out []store.Concept
	for _, c := range concepts {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func chunkConcepts(inputs []ConceptInput, size int) [][]ConceptInput {
	if size <= 0 {
		size = 10
	}
	var chunks [][]ConceptInput
	for i := 0; i < len(inputs); i += size {
		end := i + size
		if end > len(inputs) {
			end = len(inputs)
		}
		chunks = append(chunks, inputs[i:end])
	}
	return chunks
}
