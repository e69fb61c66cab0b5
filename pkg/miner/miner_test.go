package miner

import (
	"context"
	"strconv"
	"testing"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/errs"
	"github.com/knowledgechipper/core/pkg/llms"
	"github.com/knowledgechipper/core/pkg/schema"
	"github.com/knowledgechipper/core/pkg/store"
)

// scriptedProvider returns its canned responses in order, one per call.
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

func newValidator(t *testing.T) *schema.Validator {
	t.Helper()
	v, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func testSegment() store.Segment {
	text := "Machine learning models require careful optimization. Dr. Sarah Chen from Stanford showed adaptive learning rates cut training time by 40 percent."
	return store.Segment{SegmentID: "seg1", EpisodeID: "ep1", StartS: 0, EndS: 30, Text: text}
}

func TestMineHappyPath(t *testing.T) {
	seg := testSegment()
	claimText := "Dr. Sarah Chen from Stanford showed adaptive learning rates cut training time by 40 percent."
	start := runeIndex(seg.Text, claimText)

	resp := `{"claims":[{"raw_text":"` + claimText + `","canonical_text":"adaptive learning rates cut training time by 40%","char_start":` +
		strconv.Itoa(start) + `,"char_end":` + strconv.Itoa(start+len([]rune(claimText))) + `}],"people":[],"jargon":[],"concepts":[]}`

	p := &scriptedProvider{responses: []string{resp}}
	m := New(p, newValidator(t), 0, 1024)

	out, err := m.Mine(context.Background(), "Test Episode", seg)
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if len(out.Claims) != 1 {
		t.Fatalf("expected 1 claim, got %d: %+v", len(out.Claims), out.Claims)
	}
	if out.ErrorCode != "" {
		t.Fatalf("expected no error code, got %v", out.ErrorCode)
	}
}

func TestMineRepairsOnceThenSucceeds(t *testing.T) {
	seg := testSegment()
	p := &scriptedProvider{responses: []string{
		"not json at all",
		`{"claims":[],"people":[],"jargon":[],"concepts":[]}`,
	}}
	m := New(p, newValidator(t), 0, 1024)

	out, err := m.Mine(context.Background(), "Test Episode", seg)
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if p.calls != 2 {
		t.Fatalf("expected exactly 2 calls (initial + repair), got %d", p.calls)
	}
	if out.ErrorCode != "" {
		t.Fatalf("expected success after repair, got error code %v", out.ErrorCode)
	}
}

func TestMineGivesUpAfterOneFailedRepair(t *testing.T) {
	seg := testSegment()
	p := &scriptedProvider{responses: []string{
		"not json",
		"still not json",
	}}
	m := New(p, newValidator(t), 0, 1024)

	out, err := m.Mine(context.Background(), "Test Episode", seg)
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if out.ErrorCode != errs.ValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %v", out.ErrorCode)
	}
	if len(out.Claims) != 0 || len(out.People) != 0 {
		t.Fatalf("expected empty candidate sets, got %+v", out)
	}
}

func TestMineDropsCandidatesWithInvalidOffsets(t *testing.T) {
	seg := testSegment()
	resp := `{"claims":[{"raw_text":"bogus quote text","canonical_text":"bogus","char_start":0,"char_end":5}],"people":[],"jargon":[],"concepts":[]}`
	p := &scriptedProvider{responses: []string{resp}}
	m := New(p, newValidator(t), 0, 1024)

	out, err := m.Mine(context.Background(), "Test Episode", seg)
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if len(out.Claims) != 0 {
		t.Fatalf("expected the mismatched-quote claim to be dropped, got %+v", out.Claims)
	}
}

func runeIndex(haystack, needle string) int {
	hr := []rune(haystack)
	nr := []rune(needle)
	for i := 0; i+len(nr) <= len(hr); i++ {
		match := true
		for j := range nr {
			if hr[i+j] != nr[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
