package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Authorization=Bearer test-key, got %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type=application/json, got %s", r.Header.Get("Content-Type"))
		}

		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("expected model gpt-4o, got %s", req.Model)
		}
		if req.Temperature != 0.7 {
			t.Errorf("temperature = %v, want 0.7", req.Temperature)
		}
		if req.MaxTokens != 2000 {
			t.Errorf("max_tokens = %d, want 2000", req.MaxTokens)
		}
		if req.TopP != 1 {
			t.Errorf("top_p = %v, want 1", req.TopP)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Fatalf("messages = %+v, want one user message", req.Messages)
		}

		resp := openaiResponse{
			ID: "chatcmpl-123",
			Choices: []openaiChoice{{
				Message:      openaiMessage{Role: "assistant", Content: "  Done: wrote the plan.\n"},
				FinishReason: "stop",
			}},
			Usage: openaiUsage{PromptTokens: 15, CompletionTokens: 8},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	resp, err := p.Chat(context.Background(), []Message{
		{Role: RoleUser, Content: "Write the plan"},
	}, Params{Temperature: 0.7, MaxTokens: 2000, TopP: 1})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "  Done: wrote the plan.\n" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 15 || resp.Usage.OutputTokens != 8 {
		t.Errorf("usage = %+v, want 15/8", resp.Usage)
	}

	text, err := Complete(context.Background(), p, "Write the plan", Params{Temperature: 0.7, MaxTokens: 2000, TopP: 1})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "Done: wrote the plan." {
		t.Errorf("Complete = %q, want trimmed text", text)
	}
}

func TestOpenAIChat_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "bad", BaseURL: server.URL})
	_, err := Complete(context.Background(), p, "hi", Params{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrGeneration) {
		t.Errorf("error %v does not wrap ErrGeneration", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error %q should mention status 401", err)
	}
}

func TestOpenAIChat_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(openaiResponse{ID: "empty"})
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	if _, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, Params{}); !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %s, want /v1/embeddings", r.URL.Path)
		}
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "text-embedding-ada-002" {
			t.Errorf("model = %s", req.Model)
		}
		if len(req.Input) != 1 || req.Input[0] != "line one line two" {
			t.Errorf("input = %q, want newlines folded", req.Input)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(OpenAIEmbedderConfig{APIKey: "k", BaseURL: server.URL, Dimension: 3})
	vec, err := e.Embed(context.Background(), "line one\nline two")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2]}]}`))
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(OpenAIEmbedderConfig{APIKey: "k", BaseURL: server.URL})
	if e.Dimension() != 1536 {
		t.Errorf("Dimension() = %d, want 1536", e.Dimension())
	}
	_, err := e.Embed(context.Background(), "x")
	if !errors.Is(err, ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
}

func TestListModels_OpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"dall-e-3"},{"id":"text-embedding-ada-002"}]}`))
	}))
	defer server.Close()

	models, err := ListModels(context.Background(), "openai", "k", server.URL)
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2: %+v", len(models), models)
	}
	if models[0].ID != "gpt-4o" || models[1].ID != "text-embedding-ada-002" {
		t.Errorf("models = %+v", models)
	}
}

func TestListModels_Unsupported(t *testing.T) {
	if _, err := ListModels(context.Background(), "bogus", "", ""); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
