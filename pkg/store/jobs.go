package store

import (
	"context"
	"database/sql"

	"github.com/knowledgechipper/core/pkg/errs"
)

// legalTransitions encodes the Job status state machine: queued →
// running, running → succeeded, running → failed. failed → running is the
// one addition: a failed job may be reopened by resume_job, which starts a
// new JobRun whose status then becomes authoritative for the job. succeeded
// stays terminal.
var legalTransitions = map[string]map[string]bool{
	"queued":  {"running": true},
	"running": {"succeeded": true, "failed": true},
	"failed":  {"running": true},
}

// InsertJob creates a new job row in status "queued".
func (s *Store) InsertJob(ctx context.Context, job Job) error {
	if job.Status == "" {
		job.Status = "queued"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, job_type, input_id, config_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, job.JobID, job.JobType, job.InputID, orEmptyJSON(job.ConfigJSON), job.Status, nowStringOr(job.CreatedAt))
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: insert job", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var j Job
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, job_type, input_id, config_json, status, created_at FROM jobs WHERE job_id = ?
	`, jobID).Scan(&j.JobID, &j.JobType, &j.InputID, &j.ConfigJSON, &j.Status, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "store: job "+jobID+" not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: get job", err)
	}
	return &j, nil
}

// TransitionJob atomically moves a job to newStatus, rejecting any
// transition not in the legal set.
func (s *Store) TransitionJob(ctx context.Context, jobID, newStatus string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !legalTransitions[job.Status][newStatus] {
		return errs.New(errs.IntegrityError, "store: illegal job transition "+job.Status+" -> "+newStatus)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE job_id = ? AND status = ?`, newStatus, jobID, job.Status)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: transition job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: transition job", err)
	}
	if n == 0 {
		return errs.New(errs.IntegrityError, "store: job "+jobID+" changed status concurrently")
	}
	return nil
}

// InsertJobRun creates a new run for a job, in status "running".
func (s *Store) InsertJobRun(ctx context.Context, run JobRun) error {
	if run.Status == "" {
		run.Status = "running"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (job_run_id, job_id, status, started_at, completed_at, checkpoint_json, metrics_json, error_code, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.JobRunID, run.JobID, run.Status, nowStringOr(run.StartedAt), run.CompletedAt, run.CheckpointJSON, run.MetricsJSON, run.ErrorCode, run.ErrorMessage)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: insert job_run", err)
	}
	return nil
}

// UpdateJobRun persists a run's terminal/checkpoint/metrics state. Called
// repeatedly as the pipeline progresses (checkpoints) and once at
// completion (status/metrics/error).
func (s *Store) UpdateJobRun(ctx context.Context, run JobRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_runs SET status = ?, completed_at = ?, checkpoint_json = ?, metrics_json = ?, error_code = ?, error_message = ?
		WHERE job_run_id = ?
	`, run.Status, run.CompletedAt, run.CheckpointJSON, run.MetricsJSON, run.ErrorCode, run.ErrorMessage, run.JobRunID)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: update job_run", err)
	}
	return nil
}

// GetJobRun fetches a single run by its job_run_id.
func (s *Store) GetJobRun(ctx context.Context, jobRunID string) (*JobRun, error) {
	var r JobRun
	err := s.db.QueryRowContext(ctx, `
		SELECT job_run_id, job_id, status, started_at, completed_at, checkpoint_json, metrics_json, error_code, error_message
		FROM job_runs WHERE job_run_id = ?
	`, jobRunID).Scan(&r.JobRunID, &r.JobID, &r.Status, &r.StartedAt, &r.CompletedAt, &r.CheckpointJSON, &r.MetricsJSON, &r.ErrorCode, &r.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "store: job_run "+jobRunID+" not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: get job_run", err)
	}
	return &r, nil
}

// GetLatestJobRun returns a job's most recent run, used by
// checkpoint.Manager.Load and the job status command.
func (s *Store) GetLatestJobRun(ctx context.Context, jobID string) (*JobRun, error) {
	var r JobRun
	err := s.db.QueryRowContext(ctx, `
		SELECT job_run_id, job_id, status, started_at, completed_at, checkpoint_json, metrics_json, error_code, error_message
		FROM job_runs WHERE job_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1
	`, jobID).Scan(&r.JobRunID, &r.JobID, &r.Status, &r.StartedAt, &r.CompletedAt, &r.CheckpointJSON, &r.MetricsJSON, &r.ErrorCode, &r.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "store: no runs for job "+jobID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: get latest job_run", err)
	}
	return &r, nil
}
