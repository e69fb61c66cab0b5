package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/errs"
	"github.com/knowledgechipper/core/pkg/httpclient"
)

const ollamaDefaultHost = "http://localhost:11434"

// OllamaProvider implements Provider against a local Ollama server.
type OllamaProvider struct {
	cfg    config.ProviderConfig
	client *httpclient.Client
}

func NewOllamaProvider(cfg config.ProviderConfig) (*OllamaProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = ollamaDefaultHost
	}
	return &OllamaProvider{
		cfg:    cfg,
		client: newProviderHTTPClient(cfg, httpclient.ParseOllamaHeaders),
	}, nil
}

func (p *OllamaProvider) Name() config.Provider { return config.ProviderOllama }
func (p *OllamaProvider) Model() string         { return p.cfg.Model }
func (p *OllamaProvider) Close() error          { return nil }

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Response           string `json:"response"`
	Done               bool   `json:"done"`
	PromptEvalCount    int    `json:"prompt_eval_count"`
	EvalCount          int    `json:"eval_count"`
	Error              string `json:"error,omitempty"`
}

func (p *OllamaProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body := ollamaRequest{
		Model:  p.cfg.Model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  orDefault(req.MaxTokens, p.cfg.MaxTokens),
		},
	}
	if req.ResponseSchemaName != "" {
		// Ollama supports a bare "json" format hint, not schema-constrained
		// generation; pkg/schema validation plus the single repair attempt
		// carries the rest of the guarantee.
		body.Format = "json"
	}

	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "ollama: marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/generate", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, errs.Wrap(errs.LLMAPIError, "ollama: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, errs.Wrap(errs.LLMAPIError, "ollama: request failed", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.LLMAPIError, "ollama: read response", err)
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, errs.Wrap(errs.LLMParseError, "ollama: decode response", err)
	}
	if parsed.Error != "" {
		return nil, errs.New(errs.LLMAPIError, fmt.Sprintf("ollama: %s", parsed.Error))
	}
	if parsed.Response == "" {
		return nil, errs.New(errs.LLMParseError, "ollama: response contained no text")
	}

	return &GenerateResponse{
		Text:             parsed.Response,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
		Model:            p.cfg.Model,
		Provider:         config.ProviderOllama,
		Latency:          latency,
		RawRequest:       reqBytes,
		RawResponse:      respBytes,
	}, nil
}
