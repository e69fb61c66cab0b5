package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/knowledgechipper/core/pkg/config"
)

func TestOpenAIGenerateParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Model != "gpt-4o-mini" {
			t.Fatalf("unexpected model: %s", body.Model)
		}
		resp := openAIResponse{
			Output: []openAIOutputItem{{
				Type:    "message",
				Content: []openAIOutputPart{{Type: "output_text", Text: `{"claims":[]}`}},
			}},
			Usage: openAIUsage{InputTokens: 10, OutputTokens: 5},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := config.ProviderConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "sk-test", BaseURL: srv.URL, MaxConcurrency: 1}
	p, err := NewOpenAIProvider(cfg)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Generate(context.Background(), GenerateRequest{Prompt: "hello", Temperature: 0})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != `{"claims":[]}` {
		t.Fatalf("unexpected text: %s", resp.Text)
	}
	if resp.PromptTokens != 10 || resp.CompletionTokens != 5 {
		t.Fatalf("unexpected token counts: %+v", resp)
	}
}

func TestAnthropicGenerateParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: "hello back"}},
			Usage:   anthropicUsage{InputTokens: 3, OutputTokens: 2},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := config.ProviderConfig{Provider: config.ProviderAnthropic, Model: "claude-3-5-sonnet", APIKey: "sk-ant-test", BaseURL: srv.URL, MaxConcurrency: 1}
	p, err := NewAnthropicProvider(cfg)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Generate(context.Background(), GenerateRequest{Prompt: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "hello back" {
		t.Fatalf("unexpected text: %s", resp.Text)
	}
}

func TestOllamaGenerateParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := ollamaResponse{Response: "local reply", Done: true, PromptEvalCount: 4, EvalCount: 6}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := config.ProviderConfig{Provider: config.ProviderOllama, Model: "llama3.1", BaseURL: srv.URL, MaxConcurrency: 1}
	p, err := NewOllamaProvider(cfg)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Generate(context.Background(), GenerateRequest{Prompt: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "local reply" {
		t.Fatalf("unexpected text: %s", resp.Text)
	}
}

func TestGenerateSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openAIResponse{Error: &openAIError{Type: "invalid_request_error", Message: "bad model"}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := config.ProviderConfig{Provider: config.ProviderOpenAI, Model: "bad-model", APIKey: "sk-test", BaseURL: srv.URL, MaxConcurrency: 1}
	p, err := NewOpenAIProvider(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Generate(context.Background(), GenerateRequest{Prompt: "hello"}); err == nil {
		t.Fatal("expected error from provider error payload")
	}
}

func TestRegistryCreateFromConfigRejectsUnsupportedProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateFromConfig("bad", config.ProviderConfig{Provider: "unsupported", Model: "x"})
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry()
	cfg := config.ProviderConfig{Provider: config.ProviderOllama, Model: "llama3.1", BaseURL: "http://localhost:11434", MaxConcurrency: 2}
	created, err := r.CreateFromConfig("local", cfg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.MustGet("local")
	if err != nil {
		t.Fatal(err)
	}
	if got != created {
		t.Fatal("expected MustGet to return the same provider instance")
	}
}

func TestWrapWithLimitsRejectsCancelledContext(t *testing.T) {
	cfg := config.ProviderConfig{MaxConcurrency: 1}
	stub := &stubProvider{}
	limited := wrapWithLimits(stub, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := limited.Generate(ctx, GenerateRequest{}); err == nil {
		t.Fatal("expected error when context is already cancelled")
	}
}

type stubProvider struct{}

func (s *stubProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	return &GenerateResponse{Text: "stub"}, nil
}
func (s *stubProvider) Name() config.Provider { return config.ProviderOllama }
func (s *stubProvider) Model() string         { return "stub" }
func (s *stubProvider) Close() error          { return nil }
