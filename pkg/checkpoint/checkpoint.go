// Package checkpoint persists and restores the opaque, stage-defined
// progress snapshots that let a job resume after a crash or cancellation
//.
//
// Checkpoints live in the same sqlite database as the staged partial
// outputs they describe (pkg/store.JobRun.CheckpointJSON), so a resume
// always sees a checkpoint consistent with what was actually durably
// written, with no separate store to fall out of sync with.
package checkpoint

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/knowledgechipper/core/pkg/errs"
	"github.com/knowledgechipper/core/pkg/store"
)

// State is the decoded form of a JobRun's checkpoint_json. Stage is the
// handler that produced it (e.g. "mine", "flagship"); LastSegment is the
// highest segment index known to be fully, durably processed;
// PartialResults carries stage-specific counters.
type State struct {
	Stage          string         `json:"stage"`
	LastSegment    int            `json:"last_segment"`
	PartialResults map[string]int `json:"partial_results"`
}

// Manager saves and loads checkpoints for a job run, and reports whether
// checkpointing is due given the configured interval K (default 5).
type Manager struct {
	store *store.Store
	every int
}

// NewManager builds a Manager. every is the checkpoint interval K in
// completed segments; 0 or negative falls back to 5.
func NewManager(s *store.Store, every int) *Manager {
	if every <= 0 {
		every = 5
	}
	return &Manager{store: s, every: every}
}

// ShouldCheckpointAt reports whether a checkpoint is due once the given
// number of segments has been completed.
func (m *Manager) ShouldCheckpointAt(completedCount int) bool {
	return completedCount > 0 && completedCount%m.every == 0
}

// Save persists a checkpoint for the given job run. Partial outputs must
// already be durably written (in the same store) before this is called, so
// that the checkpoint never claims progress that didn't actually commit.
//
// The current run row is read first and written back whole with only
// checkpoint_json replaced, so metrics and error fields already stored are
// kept. The read and the write are separate statements: a change another
// call makes to the row between them is overwritten.
func (m *Manager) Save(ctx context.Context, jobRunID string, state State) error {
	run, err := m.store.GetJobRun(ctx, jobRunID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "checkpoint: marshal state", err)
	}
	checkpointJSON := string(payload)
	run.CheckpointJSON = &checkpointJSON
	if err := m.store.UpdateJobRun(ctx, *run); err != nil {
		return err
	}
	slog.Debug("checkpoint saved", "job_run_id", jobRunID, "stage", state.Stage, "last_segment", state.LastSegment)
	return nil
}

// Load retrieves the checkpoint of a job's most recent run.
// Returns (nil, nil) if the job has no prior run or no checkpoint was ever
// written, meaning resume should behave like a fresh run.
func (m *Manager) Load(ctx context.Context, jobID string) (*State, error) {
	run, err := m.store.GetLatestJobRun(ctx, jobID)
	if errs.Is(err, errs.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if run.CheckpointJSON == nil || *run.CheckpointJSON == "" {
		return nil, nil
	}
	var state State
	if err := json.Unmarshal([]byte(*run.CheckpointJSON), &state); err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "checkpoint: unmarshal state", err)
	}
	return &state, nil
}
