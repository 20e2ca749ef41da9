package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jhyang-dev/reverie/backend/internal/config"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
)

type stubAdapter struct {
	name      string
	gotModel  string
	gotMsgs   []Message
	reply     string
	replyErr  error
	callCount int
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Invoke(_ context.Context, messages []Message, model string) (string, error) {
	s.callCount++
	s.gotModel = model
	s.gotMsgs = messages
	return s.reply, s.replyErr
}

func TestRegistryRoutesLogicalModel(t *testing.T) {
	reg := NewRegistry("gpt-4o-mini")
	stub := &stubAdapter{name: "openai", reply: "hello"}
	reg.Register(stub)
	reg.Route("gpt-4o", "openai", "gpt-4o")
	reg.Route("gpt-5", "openai", "gpt-4o")

	got, err := reg.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "gpt-5")
	if err != nil {
		t.Fatalf("Invoke err: %v", err)
	}
	if got != "hello" {
		t.Fatalf("unexpected reply: %q", got)
	}
	if stub.gotModel != "gpt-4o" {
		t.Fatalf("expected fallback model gpt-4o, got %q", stub.gotModel)
	}
}

func TestRegistryUnknownModelFallsBackToDefault(t *testing.T) {
	reg := NewRegistry("gpt-4o-mini")
	stub := &stubAdapter{name: "openai", reply: "ok"}
	reg.Register(stub)
	reg.Route("gpt-4o-mini", "openai", "gpt-4o-mini")

	if _, err := reg.Invoke(context.Background(), nil, "mystery-model"); err != nil {
		t.Fatalf("Invoke err: %v", err)
	}
	if stub.gotModel != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %q", stub.gotModel)
	}
}

func TestRegistryNoRouteAndNoDefault(t *testing.T) {
	reg := NewRegistry("missing")
	if _, _, err := reg.Resolve("also-missing"); err == nil {
		t.Fatal("expected error when nothing is routable")
	}
}

func TestSplitSystemExtractsFirstSystemTurn(t *testing.T) {
	system, rest := splitSystem([]Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	})
	if system != "persona" {
		t.Fatalf("unexpected system: %q", system)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(rest))
	}
}

func TestOpenAIInvokeSuccess(t *testing.T) {
	var captured openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "bonjour"}},
			},
		})
	}))
	defer srv.Close()

	adapter := NewOpenAI(config.OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL}, logger.NewNop())
	got, err := adapter.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "hi"},
	}, "gpt-4o")
	if err != nil {
		t.Fatalf("Invoke err: %v", err)
	}
	if got != "bonjour" {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != RoleSystem {
		t.Fatalf("system turn should stay inline, got %+v", captured.Messages)
	}
}

func TestOpenAIInvokeErrorMapsToProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited"},
		})
	}))
	defer srv.Close()

	adapter := NewOpenAI(config.OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, logger.NewNop())
	_, err := adapter.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "gpt-4o")

	var provErr *Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if provErr.Provider != "openai" || provErr.Message != "rate limited" {
		t.Fatalf("unexpected error %+v", provErr)
	}
}

func TestAnthropicInvokeMovesSystemToDedicatedField(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("unexpected api key header %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "annyeong"}},
		})
	}))
	defer srv.Close()

	adapter := NewAnthropic(config.AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL, Version: "2023-06-01"}, logger.NewNop())
	got, err := adapter.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "안녕"},
	}, "claude-3-5-sonnet-20241022")
	if err != nil {
		t.Fatalf("Invoke err: %v", err)
	}
	if got != "annyeong" {
		t.Fatalf("unexpected reply %q", got)
	}
	if captured.System != "persona" {
		t.Fatalf("system field not populated: %+v", captured)
	}
	for _, msg := range captured.Messages {
		if msg.Role == RoleSystem {
			t.Fatal("system turn leaked into message list")
		}
	}
}

func TestGeminiInvokeRelabelsAssistantRole(t *testing.T) {
	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "hola"}}}},
			},
		})
	}))
	defer srv.Close()

	adapter := NewGemini(config.GeminiConfig{APIKey: "k", BaseURL: srv.URL}, logger.NewNop())
	got, err := adapter.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}, "gemini-1.5-pro")
	if err != nil {
		t.Fatalf("Invoke err: %v", err)
	}
	if got != "hola" {
		t.Fatalf("unexpected reply %q", got)
	}
	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "persona" {
		t.Fatalf("system_instruction not populated: %+v", captured)
	}
	if captured.Contents[1].Role != "model" {
		t.Fatalf("assistant turn not relabeled: %+v", captured.Contents)
	}
}
