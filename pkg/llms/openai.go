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

const openAIDefaultHost = "https://api.openai.com/v1"

// OpenAIProvider implements Provider against the OpenAI Responses API.
type OpenAIProvider struct {
	cfg    config.ProviderConfig
	client *httpclient.Client
}

func NewOpenAIProvider(cfg config.ProviderConfig) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIDefaultHost
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: newProviderHTTPClient(cfg, httpclient.ParseOpenAIHeaders),
	}, nil
}

func (p *OpenAIProvider) Name() config.Provider { return config.ProviderOpenAI }
func (p *OpenAIProvider) Model() string         { return p.cfg.Model }
func (p *OpenAIProvider) Close() error          { return nil }

type openAIRequest struct {
	Model           string            `json:"model"`
	Input           string            `json:"input"`
	Instructions    string            `json:"instructions,omitempty"`
	MaxOutputTokens int               `json:"max_output_tokens,omitempty"`
	Temperature     float64           `json:"temperature"`
	Text            *openAITextFormat `json:"text,omitempty"`
}

type openAITextFormat struct {
	Format *openAIJSONSchemaFormat `json:"format"`
}

type openAIJSONSchemaFormat struct {
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

type openAIResponse struct {
	Output []openAIOutputItem `json:"output"`
	Usage  openAIUsage        `json:"usage"`
	Error  *openAIError       `json:"error,omitempty"`
}

type openAIOutputItem struct {
	Type    string             `json:"type"`
	Content []openAIOutputPart `json:"content,omitempty"`
}

type openAIOutputPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body := openAIRequest{
		Model:           p.cfg.Model,
		Input:           req.Prompt,
		Instructions:    req.System,
		MaxOutputTokens: orDefault(req.MaxTokens, p.cfg.MaxTokens),
		Temperature:     req.Temperature,
	}
	if req.ResponseSchemaName != "" {
		body.Text = &openAITextFormat{Format: &openAIJSONSchemaFormat{
			Type:   "json_schema",
			Name:   req.ResponseSchemaName,
			Schema: req.ResponseSchemaJSON,
			Strict: true,
		}}
	}

	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "openai: marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/responses", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, errs.Wrap(errs.LLMAPIError, "openai: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	start := time.Now()
	httpResp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, errs.Wrap(errs.LLMAPIError, "openai: request failed", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.LLMAPIError, "openai: read response", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, errs.Wrap(errs.LLMParseError, "openai: decode response", err)
	}
	if parsed.Error != nil {
		return nil, errs.New(errs.LLMAPIError, fmt.Sprintf("openai: %s: %s", parsed.Error.Type, parsed.Error.Message))
	}

	text := extractOpenAIText(parsed.Output)
	if text == "" {
		return nil, errs.New(errs.LLMParseError, "openai: response contained no text output")
	}

	return &GenerateResponse{
		Text:             text,
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		Model:            p.cfg.Model,
		Provider:         config.ProviderOpenAI,
		Latency:          latency,
		RawRequest:       reqBytes,
		RawResponse:      respBytes,
	}, nil
}

func extractOpenAIText(items []openAIOutputItem) string {
	for _, item := range items {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
