package store

import (
	"context"
	"database/sql"

	"github.com/knowledgechipper/core/pkg/errs"
)

// InsertLLMRequest writes an LLMRequest row before an LLM call is made, so
// that every attempted call is accounted for regardless of outcome.
func (s *Store) InsertLLMRequest(ctx context.Context, req LLMRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_requests (request_id, job_run_id, provider, model, temperature, request_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, req.RequestID, req.JobRunID, req.Provider, req.Model, req.Temperature, req.RequestJSON, nowStringOr(req.CreatedAt))
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: insert llm_request", err)
	}
	return nil
}

// InsertLLMResponse writes the LLMResponse paired with a prior
// InsertLLMRequest call, whether the call succeeded or failed.
func (s *Store) InsertLLMResponse(ctx context.Context, resp LLMResponse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_responses (request_id, status_code, completion_tokens, prompt_tokens, total_tokens, latency_ms, response_json, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, resp.RequestID, resp.StatusCode, resp.CompletionTokens, resp.PromptTokens, resp.TotalTokens, resp.LatencyMS, resp.ResponseJSON, resp.ErrorMessage)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: insert llm_response", err)
	}
	return nil
}

// CountLLMRequestsForRun returns the number of LLMRequest rows for a run,
// used by tests to verify the request/response pairing invariant.
func (s *Store) CountLLMRequestsForRun(ctx context.Context, jobRunID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM llm_requests WHERE job_run_id = ?`, jobRunID).Scan(&n)
	if err != nil {
		return 0, errs.Wrap(errs.DatabaseError, "store: count llm_requests", err)
	}
	return n, nil
}

// CountLLMResponsesForRun returns the number of LLMResponse rows paired to a
// run's requests.
func (s *Store) CountLLMResponsesForRun(ctx context.Context, jobRunID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM llm_responses r
		JOIN llm_requests q ON q.request_id = r.request_id
		WHERE q.job_run_id = ?
	`, jobRunID).Scan(&n)
	if err != nil {
		return 0, errs.Wrap(errs.DatabaseError, "store: count llm_responses", err)
	}
	return n, nil
}

// SumTokensForRun totals prompt+completion tokens across a run's responses,
// used by the Orchestrator to populate JobRun.metrics_json.
// "Metrics: ...total tokens...").
func (s *Store) SumTokensForRun(ctx context.Context, jobRunID string) (int, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(r.total_tokens) FROM llm_responses r
		JOIN llm_requests q ON q.request_id = r.request_id
		WHERE q.job_run_id = ?
	`, jobRunID).Scan(&n)
	if err != nil {
		return 0, errs.Wrap(errs.DatabaseError, "store: sum tokens for run", err)
	}
	return int(n.Int64), nil
}

// ModelTokenUsage is one "provider:model" URI's token totals, used by the
// cost-accounting rollup.
type ModelTokenUsage struct {
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	RequestCount     int
}

// GetJobCost sums prompt/completion/total tokens and request counts grouped
// by provider+model across every run of a job. The audit log is the
// canonical source for post-hoc cost analysis; this is its read path.
func (s *Store) GetJobCost(ctx context.Context, jobID string) ([]ModelTokenUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.provider, q.model,
		       COALESCE(SUM(r.prompt_tokens), 0),
		       COALESCE(SUM(r.completion_tokens), 0),
		       COALESCE(SUM(r.total_tokens), 0),
		       COUNT(*)
		FROM llm_requests q
		JOIN job_runs jr ON jr.job_run_id = q.job_run_id
		LEFT JOIN llm_responses r ON r.request_id = q.request_id
		WHERE jr.job_id = ?
		GROUP BY q.provider, q.model
		ORDER BY q.provider, q.model
	`, jobID)
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: get_job_cost", err)
	}
	defer rows.Close()

	var out []ModelTokenUsage
	for rows.Next() {
		var u ModelTokenUsage
		if err := rows.Scan(&u.Provider, &u.Model, &u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.RequestCount); err != nil {
			return nil, errs.Wrap(errs.DatabaseError, "store: scan job cost row", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
