package store

import (
	"context"
	"testing"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/errs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.DatabaseConfig{Path: ":memory:"}
	cfg.SetDefaults()
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedEpisode(t *testing.T, s *Store, episodeID string) {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertSource(ctx, Source{SourceID: episodeID, SourceType: "youtube", Title: "Talk"}); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}
	if err := s.UpsertEpisode(ctx, Episode{EpisodeID: episodeID, Title: "Talk", Language: "en"}); err != nil {
		t.Fatalf("UpsertEpisode: %v", err)
	}
}

func TestOpenAppliesSchemaAndIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetEpisode(context.Background(), "missing"); !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "ep1")

	segs := []Segment{
		{SegmentID: "seg1", EpisodeID: "ep1", StartS: 0, EndS: 5, Text: "hello world", Seq: 0},
		{SegmentID: "seg2", EpisodeID: "ep1", StartS: 5, EndS: 10, Text: "second segment", Seq: 1},
	}
	if err := s.ReplaceSegments(ctx, "ep1", segs); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}

	got, err := s.GetSegments(ctx, "ep1")
	if err != nil {
		t.Fatalf("GetSegments: %v", err)
	}
	if len(got) != 2 || got[0].SegmentID != "seg1" || got[1].SegmentID != "seg2" {
		t.Fatalf("unexpected segments: %+v", got)
	}

	// Replacing again must not duplicate rows.
	if err := s.ReplaceSegments(ctx, "ep1", segs); err != nil {
		t.Fatalf("ReplaceSegments (2nd): %v", err)
	}
	got, err = s.GetSegments(ctx, "ep1")
	if err != nil {
		t.Fatalf("GetSegments (2nd): %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 segments after replace, got %d", len(got))
	}
}

func TestReplaceSegmentsRejectsOverlap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "ep1")

	segs := []Segment{
		{SegmentID: "seg1", EpisodeID: "ep1", StartS: 0, EndS: 5, Text: "a", Seq: 0},
		{SegmentID: "seg2", EpisodeID: "ep1", StartS: 3, EndS: 8, Text: "b", Seq: 1},
	}
	err := s.ReplaceSegments(ctx, "ep1", segs)
	if !errs.Is(err, errs.IntegrityError) {
		t.Fatalf("expected IntegrityError for overlapping segments, got %v", err)
	}
}

func TestUpsertPipelineOutputsAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "ep1")

	segs := []Segment{
		{SegmentID: "seg1", EpisodeID: "ep1", StartS: 0, EndS: 5, Text: "Quantum computing is fascinating.", Seq: 0},
	}
	if err := s.ReplaceSegments(ctx, "ep1", segs); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}

	out := PipelineOutputs{
		Claims: []Claim{
			{
				ClaimID:       "claim1",
				SegmentID:     "seg1",
				CanonicalText: "Quantum computing is fascinating",
				RawText:       "Quantum computing is fascinating",
				Tier:          "A",
				Evidence: []EvidenceSpan{
					{SpanID: "span1", SegmentID: "seg1", CharStart: 0, CharEnd: 25, Quote: "Quantum computing is fasc"},
				},
			},
		},
	}
	if err := s.UpsertPipelineOutputs(ctx, "ep1", "mine", out); err != nil {
		t.Fatalf("UpsertPipelineOutputs: %v", err)
	}

	claims, err := s.GetClaimsByTier(ctx, "ep1", "A")
	if err != nil {
		t.Fatalf("GetClaimsByTier: %v", err)
	}
	if len(claims) != 1 || len(claims[0].Evidence) != 1 {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	ids, err := s.SearchClaims(ctx, "quantum", ClaimSearchFilters{EpisodeID: "ep1"})
	if err != nil {
		t.Fatalf("SearchClaims: %v", err)
	}
	if len(ids) != 1 || ids[0] != "claim1" {
		t.Fatalf("expected claim1 from search, got %v", ids)
	}

	// Rerunning the same (episode, job_type) must atomically replace, not
	// duplicate.
	if err := s.UpsertPipelineOutputs(ctx, "ep1", "mine", out); err != nil {
		t.Fatalf("UpsertPipelineOutputs (rerun): %v", err)
	}
	claims, err = s.GetClaimsByTier(ctx, "ep1", "A")
	if err != nil {
		t.Fatalf("GetClaimsByTier (rerun): %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected 1 claim after rerun, got %d", len(claims))
	}
}

func TestUpsertPipelineOutputsRejectsBadEvidence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "ep1")
	segs := []Segment{{SegmentID: "seg1", EpisodeID: "ep1", StartS: 0, EndS: 5, Text: "hello world", Seq: 0}}
	if err := s.ReplaceSegments(ctx, "ep1", segs); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}

	out := PipelineOutputs{
		Claims: []Claim{
			{
				ClaimID:   "claim1",
				SegmentID: "seg1",
				Tier:      "B",
				Evidence: []EvidenceSpan{
					{SpanID: "span1", SegmentID: "seg1", CharStart: 0, CharEnd: 5, Quote: "does not match"},
				},
			},
		},
	}
	err := s.UpsertPipelineOutputs(ctx, "ep1", "mine", out)
	if !errs.Is(err, errs.IntegrityError) {
		t.Fatalf("expected IntegrityError for mismatched quote, got %v", err)
	}
}

func TestUpsertPipelineOutputsRejectsClaimWithoutEvidence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "ep1")
	segs := []Segment{{SegmentID: "seg1", EpisodeID: "ep1", StartS: 0, EndS: 5, Text: "hello world", Seq: 0}}
	if err := s.ReplaceSegments(ctx, "ep1", segs); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}

	out := PipelineOutputs{Claims: []Claim{{ClaimID: "claim1", SegmentID: "seg1", Tier: "B"}}}
	err := s.UpsertPipelineOutputs(ctx, "ep1", "mine", out)
	if !errs.Is(err, errs.IntegrityError) {
		t.Fatalf("expected IntegrityError for claim without evidence, got %v", err)
	}
}

func TestJobLifecycleLegalTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "ep1")

	if err := s.InsertJob(ctx, Job{JobID: "job1", JobType: "mine", InputID: "ep1"}); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	job, err := s.GetJob(ctx, "job1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "queued" {
		t.Fatalf("expected queued, got %s", job.Status)
	}

	if err := s.TransitionJob(ctx, "job1", "running"); err != nil {
		t.Fatalf("transition queued->running: %v", err)
	}
	if err := s.TransitionJob(ctx, "job1", "succeeded"); err != nil {
		t.Fatalf("transition running->succeeded: %v", err)
	}

	if err := s.TransitionJob(ctx, "job1", "running"); !errs.Is(err, errs.IntegrityError) {
		t.Fatalf("expected IntegrityError for illegal transition, got %v", err)
	}
}

func TestJobRunAndAuditPairing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "ep1")
	if err := s.InsertJob(ctx, Job{JobID: "job1", JobType: "mine", InputID: "ep1"}); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if err := s.InsertJobRun(ctx, JobRun{JobRunID: "run1", JobID: "job1"}); err != nil {
		t.Fatalf("InsertJobRun: %v", err)
	}

	for i := 0; i < 3; i++ {
		reqID := "req" + string(rune('a'+i))
		if err := s.InsertLLMRequest(ctx, LLMRequest{RequestID: reqID, JobRunID: "run1", Provider: "openai", Model: "gpt", RequestJSON: "{}"}); err != nil {
			t.Fatalf("InsertLLMRequest: %v", err)
		}
		if err := s.InsertLLMResponse(ctx, LLMResponse{RequestID: reqID, StatusCode: 200, ResponseJSON: "{}"}); err != nil {
			t.Fatalf("InsertLLMResponse: %v", err)
		}
	}

	reqCount, err := s.CountLLMRequestsForRun(ctx, "run1")
	if err != nil {
		t.Fatalf("CountLLMRequestsForRun: %v", err)
	}
	respCount, err := s.CountLLMResponsesForRun(ctx, "run1")
	if err != nil {
		t.Fatalf("CountLLMResponsesForRun: %v", err)
	}
	if reqCount != 3 || respCount != 3 {
		t.Fatalf("expected 3/3 request/response pairing, got %d/%d", reqCount, respCount)
	}

	latest, err := s.GetLatestJobRun(ctx, "job1")
	if err != nil {
		t.Fatalf("GetLatestJobRun: %v", err)
	}
	if latest.JobRunID != "run1" {
		t.Fatalf("expected run1, got %s", latest.JobRunID)
	}
}

func TestStagedOutputRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "ep1")
	if err := s.InsertJob(ctx, Job{JobID: "job1", JobType: "mine", InputID: "ep1"}); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	rows := []StagedOutput{
		{JobID: "job1", JobType: "mine", SegmentID: "seg2", Seq: 1, Failed: true, OutputJSON: `{"segment_id":"seg2"}`},
		{JobID: "job1", JobType: "mine", SegmentID: "seg1", Seq: 0, OutputJSON: `{"segment_id":"seg1","claims":[]}`},
	}
	for _, row := range rows {
		if err := s.StageSegmentOutput(ctx, row); err != nil {
			t.Fatalf("StageSegmentOutput: %v", err)
		}
	}

	got, err := s.GetStagedOutputs(ctx, "job1", "mine")
	if err != nil {
		t.Fatalf("GetStagedOutputs: %v", err)
	}
	if len(got) != 2 || got[0].SegmentID != "seg1" || got[1].SegmentID != "seg2" {
		t.Fatalf("expected seq-ordered staged rows, got %+v", got)
	}
	if !got[1].Failed {
		t.Fatalf("expected seg2 staged row to keep its failed flag")
	}

	// Re-staging a segment replaces, never duplicates.
	if err := s.StageSegmentOutput(ctx, StagedOutput{JobID: "job1", JobType: "mine", SegmentID: "seg2", Seq: 1, OutputJSON: `{"segment_id":"seg2"}`}); err != nil {
		t.Fatalf("StageSegmentOutput (replace): %v", err)
	}
	got, err = s.GetStagedOutputs(ctx, "job1", "mine")
	if err != nil {
		t.Fatalf("GetStagedOutputs (replace): %v", err)
	}
	if len(got) != 2 || got[1].Failed {
		t.Fatalf("expected replaced seg2 row with failed cleared, got %+v", got)
	}

	if err := s.DeleteStagedOutputs(ctx, "job1"); err != nil {
		t.Fatalf("DeleteStagedOutputs: %v", err)
	}
	got, err = s.GetStagedOutputs(ctx, "job1", "mine")
	if err != nil {
		t.Fatalf("GetStagedOutputs (after delete): %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no staged rows after delete, got %d", len(got))
	}
}

func TestGetEpisodeBundle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "ep1")
	segs := []Segment{{SegmentID: "seg1", EpisodeID: "ep1", StartS: 0, EndS: 5, Text: "hi", Seq: 0}}
	if err := s.ReplaceSegments(ctx, "ep1", segs); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}
	bundle, err := s.GetEpisodeBundle(ctx, "ep1")
	if err != nil {
		t.Fatalf("GetEpisodeBundle: %v", err)
	}
	if bundle.Episode.EpisodeID != "ep1" || len(bundle.Segments) != 1 {
		t.Fatalf("unexpected bundle: %+v", bundle)
	}
}
