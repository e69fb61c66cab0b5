package checkpoint

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
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestShouldCheckpointAt(t *testing.T) {
	m := NewManager(nil, 5)
	cases := map[int]bool{0: false, 1: false, 4: false, 5: true, 10: true, 11: false}
	for n, want := range cases {
		if got := m.ShouldCheckpointAt(n); got != want {
			t.Errorf("ShouldCheckpointAt(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.UpsertSource(ctx, store.Source{SourceID: "ep1", SourceType: "youtube"}); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}
	if err := s.UpsertEpisode(ctx, store.Episode{EpisodeID: "ep1"}); err != nil {
		t.Fatalf("UpsertEpisode: %v", err)
	}
	if err := s.InsertJob(ctx, store.Job{JobID: "job1", JobType: "mine", InputID: "ep1"}); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if err := s.InsertJobRun(ctx, store.JobRun{JobRunID: "run1", JobID: "job1"}); err != nil {
		t.Fatalf("InsertJobRun: %v", err)
	}

	m := NewManager(s, 5)
	state := State{Stage: "mine", LastSegment: 9, PartialResults: map[string]int{"claims": 3}}
	if err := m.Save(ctx, "run1", state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Load(ctx, "job1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.Stage != "mine" || got.LastSegment != 9 || got.PartialResults["claims"] != 3 {
		t.Fatalf("unexpected loaded state: %+v", got)
	}
}

func TestLoadReturnsNilWhenNoCheckpoint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.UpsertSource(ctx, store.Source{SourceID: "ep1", SourceType: "youtube"}); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}
	if err := s.UpsertEpisode(ctx, store.Episode{EpisodeID: "ep1"}); err != nil {
		t.Fatalf("UpsertEpisode: %v", err)
	}
	if err := s.InsertJob(ctx, store.Job{JobID: "job1", JobType: "mine", InputID: "ep1"}); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	m := NewManager(s, 5)
	got, err := m.Load(ctx, "job1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil state for job with no runs, got %+v", got)
	}
}
