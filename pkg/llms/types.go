// Package llms is the unified LLM adapter: a single Generate operation
// backed by per-provider implementations for OpenAI, Anthropic, and a local
// Ollama server, each wrapped with retrying HTTP transport, a per-provider
// concurrency semaphore, and client-side rate shaping.
package llms

import (
	"context"
	"time"

	"github.com/knowledgechipper/core/pkg/config"
)

// GenerateRequest is the provider-agnostic input to a single LLM call.
type GenerateRequest struct {
	// RequestID ties this call to an llm_requests audit row.
	RequestID string

	System string
	Prompt string

	Temperature float64
	MaxTokens   int

	// ResponseSchemaName, when non-empty, asks the provider to constrain
	// output to the named JSON schema where the provider's API supports it
	// (OpenAI json_schema response_format). Anthropic instead appends an
	// instruction to answer with JSON matching the named schema, and Ollama
	// requests its plain JSON output format; the caller always still runs
	// pkg/schema validation.
	ResponseSchemaName string
	ResponseSchemaJSON []byte
}

// GenerateResponse is the provider-agnostic result of a single LLM call.
type GenerateResponse struct {
	Text string

	PromptTokens     int
	CompletionTokens int

	Model    string
	Provider config.Provider

	Latency time.Duration

	// RawRequest and RawResponse are the exact bytes sent/received, kept for
	// the llm_requests/llm_responses audit trail.
	RawRequest  []byte
	RawResponse []byte
}

// Provider is implemented by each concrete backend (OpenAI, Anthropic,
// Ollama). Generate must respect ctx cancellation and must not retry
// forever: transport-level retries are bounded by pkg/httpclient.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Name() config.Provider
	Model() string
	Close() error
}
