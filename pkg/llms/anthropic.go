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

const anthropicDefaultHost = "https://api.anthropic.com"

// AnthropicProvider implements Provider against the Anthropic Messages API.
type AnthropicProvider struct {
	cfg    config.ProviderConfig
	client *httpclient.Client
}

func NewAnthropicProvider(cfg config.ProviderConfig) (*AnthropicProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicDefaultHost
	}
	return &AnthropicProvider{
		cfg:    cfg,
		client: newProviderHTTPClient(cfg, httpclient.ParseAnthropicHeaders),
	}, nil
}

func (p *AnthropicProvider) Name() config.Provider { return config.ProviderAnthropic }
func (p *AnthropicProvider) Model() string         { return p.cfg.Model }
func (p *AnthropicProvider) Close() error          { return nil }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
	Type    string             `json:"type"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *AnthropicProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	maxTokens := orDefault(req.MaxTokens, p.cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	prompt := req.Prompt
	if req.ResponseSchemaName != "" {
		// Anthropic has no native JSON-schema response_format, so the schema
		// constraint is folded into the prompt; pkg/schema still validates
		// and drives the single repair attempt on mismatch.
		prompt = fmt.Sprintf("%s\n\nRespond with JSON only, conforming exactly to the %q schema. No prose, no markdown fences.", prompt, req.ResponseSchemaName)
	}

	body := anthropicRequest{
		Model:       p.cfg.Model,
		System:      req.System,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "anthropic: marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, errs.Wrap(errs.LLMAPIError, "anthropic: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	start := time.Now()
	httpResp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, errs.Wrap(errs.LLMAPIError, "anthropic: request failed", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.LLMAPIError, "anthropic: read response", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, errs.Wrap(errs.LLMParseError, "anthropic: decode response", err)
	}
	if parsed.Error != nil {
		return nil, errs.New(errs.LLMAPIError, fmt.Sprintf("anthropic: %s: %s", parsed.Error.Type, parsed.Error.Message))
	}

	var text string
	for _, c := range parsed.Content {
		if c.Type == "text" && c.Text != "" {
			text = c.Text
			break
		}
	}
	if text == "" {
		return nil, errs.New(errs.LLMParseError, "anthropic: response contained no text content")
	}

	return &GenerateResponse{
		Text:             text,
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		Model:            p.cfg.Model,
		Provider:         config.ProviderAnthropic,
		Latency:          latency,
		RawRequest:       reqBytes,
		RawResponse:      respBytes,
	}, nil
}
