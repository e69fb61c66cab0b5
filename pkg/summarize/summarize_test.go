package summarize

import (
	"context"
	"testing"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := config.DatabaseConfig{Path: ":memory:"}
	cfg.SetDefaults()
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedClaims(t *testing.T, s *store.Store, episodeID, jobType string, claims []store.Claim) {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertSource(ctx, store.Source{SourceID: episodeID, SourceType: "youtube", Title: "Talk"}); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}
	if err := s.UpsertEpisode(ctx, store.Episode{EpisodeID: episodeID, Title: "Talk", Language: "en"}); err != nil {
		t.Fatalf("UpsertEpisode: %v", err)
	}
	segs := []store.Segment{{SegmentID: "seg1", EpisodeID: episodeID, StartS: 0, EndS: 5, Text: "Adaptive learning rates cut training time significantly.", Seq: 0}}
	if err := s.ReplaceSegments(ctx, episodeID, segs); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}
	for i := range claims {
		claims[i].Evidence = []store.EvidenceSpan{{
			SpanID: claims[i].ClaimID + "-ev1", SegmentID: "seg1",
			CharStart: 0, CharEnd: len("Adaptive learning rates cut training time significantly."),
			Quote: "Adaptive learning rates cut training time significantly.",
		}}
	}
	if err := s.UpsertPipelineOutputs(ctx, episodeID, jobType, store.PipelineOutputs{Claims: claims}); err != nil {
		t.Fatalf("UpsertPipelineOutputs: %v", err)
	}
}

func TestSummarizeShortIsATierOnly(t *testing.T) {
	s := openTestStore(t)
	claims := []store.Claim{
		{ClaimID: "c1", CanonicalText: "Claim A1", Tier: "A"},
		{ClaimID: "c2", CanonicalText: "Claim B1", Tier: "B"},
		{ClaimID: "c3", CanonicalText: "Claim C1", Tier: "C"},
	}
	seedClaims(t, s, "ep1", "flagship", claims)

	sum, err := New(s).Summarize(context.Background(), "ep1", "flagship")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.ShortN != 1 {
		t.Fatalf("expected 1 tier-A claim in short summary, got %d", sum.ShortN)
	}
	if sum.LongN != 2 {
		t.Fatalf("expected 2 tier-A+B claims in long summary, got %d", sum.LongN)
	}
}

func TestSummarizeEmptyWhenNoTieredClaims(t *testing.T) {
	s := openTestStore(t)
	seedClaims(t, s, "ep2", "flagship", []store.Claim{{ClaimID: "c1", CanonicalText: "Reject-tier claim", Tier: "C"}})

	sum, err := New(s).Summarize(context.Background(), "ep2", "flagship")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Short != "" || sum.ShortN != 0 {
		t.Fatalf("expected empty short summary, got %q (%d)", sum.Short, sum.ShortN)
	}
}
