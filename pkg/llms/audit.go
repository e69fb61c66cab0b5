package llms

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/knowledgechipper/core/pkg/errs"
	"github.com/knowledgechipper/core/pkg/store"
)

// AuditStore is the subset of *store.Store the audited provider needs. It is
// an interface rather than a concrete *store.Store so tests can substitute an
// in-memory fake without opening a sqlite file.
type AuditStore interface {
	InsertLLMRequest(ctx context.Context, req store.LLMRequest) error
	InsertLLMResponse(ctx context.Context, resp store.LLMResponse) error
}

// AuditedProvider wraps a Provider so every call writes a paired
// llm_requests/llm_responses row: a request row before the call, a response
// row after, whether the call succeeded or failed.
type AuditedProvider struct {
	Provider
	store    AuditStore
	jobRunID string
}

// NewAuditedProvider wraps p so all calls made under jobRunID are audited to
// store.
func NewAuditedProvider(p Provider, s AuditStore, jobRunID string) *AuditedProvider {
	return &AuditedProvider{Provider: p, store: s, jobRunID: jobRunID}
}

func (a *AuditedProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	reqRow := store.LLMRequest{
		RequestID:   req.RequestID,
		JobRunID:    a.jobRunID,
		Provider:    string(a.Provider.Name()),
		Model:       a.Provider.Model(),
		Temperature: req.Temperature,
		RequestJSON: req.Prompt,
	}
	if err := a.store.InsertLLMRequest(ctx, reqRow); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, genErr := a.Provider.Generate(ctx, req)
	latency := time.Since(start)

	respRow := store.LLMResponse{RequestID: req.RequestID, LatencyMS: latency.Milliseconds()}
	if genErr != nil {
		msg := genErr.Error()
		respRow.StatusCode = statusCodeForError(genErr)
		respRow.ErrorMessage = &msg
		if insErr := a.store.InsertLLMResponse(ctx, respRow); insErr != nil {
			return nil, insErr
		}
		return nil, genErr
	}

	respRow.StatusCode = 200
	respRow.PromptTokens = resp.PromptTokens
	respRow.CompletionTokens = resp.CompletionTokens
	respRow.TotalTokens = resp.PromptTokens + resp.CompletionTokens
	if len(resp.RawResponse) > 0 {
		respRow.ResponseJSON = string(resp.RawResponse)
	} else {
		respRow.ResponseJSON = resp.Text
	}
	if err := a.store.InsertLLMResponse(ctx, respRow); err != nil {
		return nil, err
	}
	return resp, nil
}

// statusCodeForError maps the pipeline's error taxonomy to a representative
// HTTP-shaped status code for the audit row, so a reader of llm_responses
// doesn't need to parse error_message to tell failure classes apart.
func statusCodeForError(err error) int {
	switch errs.CodeOf(err) {
	case errs.RateLimited:
		return 429
	case errs.Timeout:
		return 504
	case errs.Cancelled:
		return 499
	case errs.ResourceExhausted:
		return 503
	default:
		return 500
	}
}
