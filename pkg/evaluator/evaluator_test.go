package evaluator

import (
	"context"
	"testing"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/llms"
	"github.com/knowledgechipper/core/pkg/miner"
	"github.com/knowledgechipper/core/pkg/schema"
)

// scriptedProvider returns its canned responses in order, one per call,
// repeating the last once exhausted. Mirrors pkg/miner's test stub.
type scriptedProvider struct {
	responses []string
	calls     int
}

func (s *scriptedProvider) Generate(ctx context.Context, req llms.GenerateRequest) (*llms.GenerateResponse, error) {
	if s.calls >= len(s.responses) {
		return &llms.GenerateResponse{Text: s.responses[len(s.responses)-1]}, nil
	}
	text := s.responses[s.calls]
	s.calls++
	return &llms.GenerateResponse{Text: text}, nil
}
func (s *scriptedProvider) Name() config.Provider { return config.ProviderOllama }
func (s *scriptedProvider) Model() string         { return "stub" }
func (s *scriptedProvider) Close() error          { return nil }

func newTestValidator(t *testing.T) *schema.Validator {
	t.Helper()
	v, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func lightweightOnlyRouting() map[config.EntityKind]config.RoutingPolicy {
	return map[config.EntityKind]config.RoutingPolicy{
		config.EntityClaim:   config.RouteLightweight,
		config.EntityPerson:  config.RouteLightweight,
		config.EntityJargon:  config.RouteLightweight,
		config.EntityConcept: config.RouteLightweight,
	}
}

func TestEvaluateClaimsTiersByScore(t *testing.T) {
	segText := "Dr. Chen showed adaptive learning rates cut training time by 40 percent."
	resp := `{"results":[` +
		`{"ref":0,"score":0.9,"tier":"A","uncertain":false,"rationale":"strong","evidence":[{"char_start":0,"char_end":39}]},` +
		`{"ref":1,"score":0.6,"tier":"B","uncertain":false,"rationale":"ok","evidence":[{"char_start":0,"char_end":10}]}` +
		`]}`
	lw := &scriptedProvider{responses: []string{resp}}
	fs := &scriptedProvider{responses: []string{resp}}
	r := New(lw, fs, newTestValidator(t), lightweightOnlyRouting(), config.DefaultUncertaintyBand())

	inputs := []ClaimInput{
		{ClaimCandidate: miner.ClaimCandidate{RawText: "a", CanonicalText: "claim a", CharStart: 0, CharEnd: 1}, SegmentID: "seg1", SegmentText: segText},
		{ClaimCandidate: miner.ClaimCandidate{RawText: "b", CanonicalText: "claim b", CharStart: 0, CharEnd: 1}, SegmentID: "seg1", SegmentText: segText},
	}

	claims := r.EvaluateClaims(context.Background(), "Test Episode", inputs)
	if len(claims) != 2 {
		t.Fatalf("expected 2 claims, got %d: %+v", len(claims), claims)
	}
	var sawA, sawB bool
	for _, c := range claims {
		switch c.Tier {
		case "A":
			sawA = true
		case "B":
			sawB = true
		}
	}
	if !sawA || !sawB {
		t.Fatalf("expected one A-tier and one B-tier claim, got %+v", claims)
	}
}

func TestEvaluateClaimsRejectIsDropped(t *testing.T) {
	segText := "Some segment text here."
	resp := `{"results":[{"ref":0,"score":0.1,"tier":"reject","uncertain":false,"rationale":"no support","evidence":[]}]}`
	lw := &scriptedProvider{responses: []string{resp}}
	fs := &scriptedProvider{responses: []string{resp}}
	r := New(lw, fs, newTestValidator(t), lightweightOnlyRouting(), config.DefaultUncertaintyBand())

	inputs := []ClaimInput{
		{ClaimCandidate: miner.ClaimCandidate{RawText: "a", CanonicalText: "claim a", CharStart: 0, CharEnd: 1}, SegmentID: "seg1", SegmentText: segText},
	}
	claims := r.EvaluateClaims(context.Background(), "Test Episode", inputs)
	if len(claims) != 0 {
		t.Fatalf("expected rejected claim to be dropped, got %+v", claims)
	}
}

func TestEvaluateClaimsFallsBackToTierCOnEvaluatorFailure(t *testing.T) {
	segText := "Some segment text here for evidence."
	lw := &scriptedProvider{responses: []string{"not json", "still not json"}}
	fs := &scriptedProvider{responses: []string{"not json", "still not json"}}
	r := New(lw, fs, newTestValidator(t), lightweightOnlyRouting(), config.DefaultUncertaintyBand())

	inputs := []ClaimInput{
		{ClaimCandidate: miner.ClaimCandidate{RawText: "Some segment", CanonicalText: "claim a", CharStart: 0, CharEnd: 12}, SegmentID: "seg1", SegmentText: segText},
	}
	claims := r.EvaluateClaims(context.Background(), "Test Episode", inputs)
	if len(claims) != 1 {
		t.Fatalf("expected 1 fallback tier-C claim, got %d", len(claims))
	}
	if claims[0].Tier != "C" {
		t.Fatalf("expected tier C, got %s", claims[0].Tier)
	}
	if claims[0].ScoringJSON == "" {
		t.Fatalf("expected scoring_json to carry the evaluator_unreachable reason")
	}
}

func TestEvaluateDualPromotesUncertainToFlagship(t *testing.T) {
	segText := "Some segment text used as evidence here."
	lwResp := `{"results":[{"ref":0,"score":0.5,"tier":"B","uncertain":true,"rationale":"unsure","evidence":[{"char_start":0,"char_end":10}]}]}`
	fsResp := `{"results":[{"ref":0,"score":0.95,"tier":"A","uncertain":false,"rationale":"confirmed","evidence":[{"char_start":0,"char_end":22}]}]}`
	lw := &scriptedProvider{responses: []string{lwResp}}
	fs := &scriptedProvider{responses: []string{fsResp}}

	routing := map[config.EntityKind]config.RoutingPolicy{config.EntityClaim: config.RouteDual}
	r := New(lw, fs, newTestValidator(t), routing, config.DefaultUncertaintyBand())

	inputs := []ClaimInput{
		{ClaimCandidate: miner.ClaimCandidate{RawText: "a", CanonicalText: "claim a", CharStart: 0, CharEnd: 1}, SegmentID: "seg1", SegmentText: segText},
	}
	claims := r.EvaluateClaims(context.Background(), "Test Episode", inputs)
	if len(claims) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(claims))
	}
	if claims[0].Tier != "A" {
		t.Fatalf("expected promotion to flagship verdict (tier A), got %s", claims[0].Tier)
	}
	if fs.calls != 1 {
		t.Fatalf("expected exactly 1 flagship call for the promoted item, got %d", fs.calls)
	}
}

func TestEvaluatePeopleFallsBackToDeterministicCheck(t *testing.T) {
	lw := &scriptedProvider{responses: []string{"broken", "still broken"}}
	fs := &scriptedProvider{responses: []string{"broken", "still broken"}}
	r := New(lw, fs, newTestValidator(t), lightweightOnlyRouting(), config.DefaultUncertaintyBand())

	inputs := []PersonInput{
		{PersonCandidate: miner.PersonCandidate{DisplayName: "Dr. Sarah Chen", Role: "researcher", CharStart: 0, CharEnd: 10}, SegmentID: "seg1", SegmentText: "Dr. Sarah Chen spoke."},
		{PersonCandidate: miner.PersonCandidate{DisplayName: "", CharStart: 0, CharEnd: 1}, SegmentID: "seg1", SegmentText: "x"},
	}
	people := r.EvaluatePeople(context.Background(), "Test Episode", inputs)
	if len(people) != 1 {
		t.Fatalf("expected only the named person to survive the deterministic fallback, got %+v", people)
	}
	if people[0].DisplayName != "Dr. Sarah Chen" {
		t.Fatalf("unexpected person kept: %+v", people[0])
	}
}

func TestEvaluateJargonAppliesStoplist(t *testing.T) {
	resp := `{"results":[{"ref":0,"score":0.9,"tier":"A","uncertain":false,"rationale":"ok","evidence":[]},` +
		`{"ref":1,"score":0.9,"tier":"A","uncertain":false,"rationale":"ok","evidence":[]}]}`
	lw := &scriptedProvider{responses: []string{resp}}
	fs := &scriptedProvider{responses: []string{resp}}
	r := New(lw, fs, newTestValidator(t), lightweightOnlyRouting(), config.DefaultUncertaintyBand())

	inputs := []JargonInput{
		{JargonCandidate: miner.JargonCandidate{Term: "gradient descent", Definition: "optimization method", CharStart: 0, CharEnd: 5}, SegmentID: "seg1", SegmentText: "text"},
		{JargonCandidate: miner.JargonCandidate{Term: "the", Definition: "article", CharStart: 0, CharEnd: 3}, SegmentID: "seg1", SegmentText: "text"},
	}
	terms := r.EvaluateJargon(context.Background(), "Test Episode", inputs)
	if len(terms) != 1 || terms[0].Term != "gradient descent" {
		t.Fatalf("expected stoplisted term dropped, got %+v", terms)
	}
}

func TestEvaluateConceptsAppliesWordFloor(t *testing.T) {
	resp := `{"results":[{"ref":0,"score":0.9,"tier":"A","uncertain":false,"rationale":"ok","evidence":[]},` +
		`{"ref":1,"score":0.9,"tier":"A","uncertain":false,"rationale":"ok","evidence":[]}]}`
	lw := &scriptedProvider{responses: []string{resp}}
	fs := &scriptedProvider{responses: []string{resp}}
	r := New(lw, fs, newTestValidator(t), lightweightOnlyRouting(), config.DefaultUncertaintyBand())

	inputs := []ConceptInput{
		{ConceptCandidate: miner.ConceptCandidate{Name: "adaptive learning", Definition: "a method that incrementally adjusts model parameters and learning rates over each training step", CharStart: 0, CharEnd: 5}, SegmentID: "seg1", SegmentText: "text"},
		{ConceptCandidate: miner.ConceptCandidate{Name: "short", Definition: "too brief", CharStart: 0, CharEnd: 5}, SegmentID: "seg1", SegmentText: "text"},
	}
	concepts := r.EvaluateConcepts(context.Background(), "Test Episode", inputs)
	if len(concepts) != 1 || concepts[0].Name != "adaptive learning" {
		t.Fatalf("expected under-the-floor concept dropped, got %+v", concepts)
	}
}
