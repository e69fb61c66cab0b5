package store

import (
	"context"

	"github.com/knowledgechipper/core/pkg/errs"
)

// StagedOutput is one segment's durably staged miner output for an
// in-progress job. A staged row means the segment is fully processed for
// this job and a resumed run may skip it.
type StagedOutput struct {
	JobID      string
	JobType    string
	SegmentID  string
	Seq        int
	Failed     bool
	OutputJSON string
}

// StageSegmentOutput durably records one segment's miner output. Replacing
// an existing row for the same (job_id, segment_id) is allowed so a retried
// segment overwrites its earlier attempt.
func (s *Store) StageSegmentOutput(ctx context.Context, row StagedOutput) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO staged_segment_outputs (job_id, job_type, segment_id, seq, failed, output_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, row.JobID, row.JobType, row.SegmentID, row.Seq, row.Failed, orEmptyJSON(row.OutputJSON), nowString())
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: stage segment output", err)
	}
	return nil
}

// GetStagedOutputs returns a job's staged segment outputs in segment order.
func (s *Store) GetStagedOutputs(ctx context.Context, jobID, jobType string) ([]StagedOutput, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, job_type, segment_id, seq, failed, output_json
		FROM staged_segment_outputs WHERE job_id = ? AND job_type = ? ORDER BY seq
	`, jobID, jobType)
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: get staged outputs", err)
	}
	defer rows.Close()

	var out []StagedOutput
	for rows.Next() {
		var r StagedOutput
		if err := rows.Scan(&r.JobID, &r.JobType, &r.SegmentID, &r.Seq, &r.Failed, &r.OutputJSON); err != nil {
			return nil, errs.Wrap(errs.DatabaseError, "store: scan staged output", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: iterate staged outputs", err)
	}
	return out, nil
}

// DeleteFailedStagedOutputs drops only the staging rows for segments that
// failed, so a resumed run re-mines them while keeping successful segments
// skippable.
func (s *Store) DeleteFailedStagedOutputs(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM staged_segment_outputs WHERE job_id = ? AND failed != 0`, jobID); err != nil {
		return errs.Wrap(errs.DatabaseError, "store: delete failed staged outputs", err)
	}
	return nil
}

// DeleteStagedOutputs clears a job's staging rows once its final outputs
// have committed.
func (s *Store) DeleteStagedOutputs(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM staged_segment_outputs WHERE job_id = ?`, jobID); err != nil {
		return errs.Wrap(errs.DatabaseError, "store: delete staged outputs", err)
	}
	return nil
}
