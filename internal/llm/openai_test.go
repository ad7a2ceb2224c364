package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

func TestOpenAIProviderGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}

		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Model != "gpt-4o-mini" || req.MaxTokens != 600 {
			t.Errorf("unexpected request model=%s max_tokens=%d", req.Model, req.MaxTokens)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
			t.Errorf("expected JSON response format, got %+v", req.ResponseFormat)
		}

		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4o-mini",
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: ` {"classification": "SUPPORT"} `,
				},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	defer server.Close()

	t.Setenv("TEST_OPENAI_KEY", "test-key")
	p := NewOpenAIProvider("gpt-4o-mini", "TEST_OPENAI_KEY", server.URL, 5*time.Second)
	if !p.IsConfigured() {
		t.Fatal("expected provider to be configured")
	}

	got, err := p.Generate(context.Background(), "prompt", 600)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != `{"classification": "SUPPORT"}` {
		t.Errorf("unexpected content %q", got)
	}
}

func TestOpenAIProviderStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error": {"message": "boom", "type": "test"}}`))
		}))

		t.Setenv("TEST_OPENAI_KEY", "test-key")
		p := NewOpenAIProvider("gpt-4o-mini", "TEST_OPENAI_KEY", server.URL, 5*time.Second)
		_, err := p.Generate(context.Background(), "prompt", 10)
		server.Close()

		if err == nil {
			t.Errorf("status %d: expected error", tt.status)
			continue
		}
		if got := IsTransient(err); got != tt.transient {
			t.Errorf("status %d: IsTransient = %v, want %v (%v)", tt.status, got, tt.transient, err)
		}
	}
}

func TestOpenAIProviderNotConfigured(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "")
	p := NewOpenAIProvider("gpt-4o-mini", "TEST_OPENAI_KEY", "", time.Second)
	if p.IsConfigured() {
		t.Error("expected provider without key to be unconfigured")
	}
	if _, err := p.Generate(context.Background(), "prompt", 10); err == nil {
		t.Error("expected error without API key")
	}
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("expected path /embeddings, got %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(openai.EmbeddingResponse{
			Object: "list",
			Data: []openai.Embedding{
				{Object: "embedding", Index: 1, Embedding: []float32{0, 1}},
				{Object: "embedding", Index: 0, Embedding: []float32{1, 0}},
			},
			Model: openai.SmallEmbedding3,
		})
	}))
	defer server.Close()

	t.Setenv("TEST_OPENAI_KEY", "test-key")
	e := NewOpenAIEmbedder("text-embedding-3-small", "TEST_OPENAI_KEY", server.URL)
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("unexpected vectors %v", vecs)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error is not transient")
	}
	if IsTransient(context.Canceled) {
		t.Error("cancellation is not transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("timeouts are transient")
	}
	if !IsTransient(&StatusError{Provider: "ollama", Code: 503}) {
		t.Error("503 is transient")
	}
	if IsTransient(&StatusError{Provider: "ollama", Code: 404}) {
		t.Error("404 is permanent")
	}
}

func TestOpenAIProviderCheck(t *testing.T) {
	tests := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusOK, false},
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/models" {
				t.Errorf("expected path /models, got %s", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			if tt.status == http.StatusOK {
				_, _ = w.Write([]byte(`{"object": "list", "data": []}`))
				return
			}
			_, _ = w.Write([]byte(`{"error": {"message": "invalid api key", "type": "invalid_request_error"}}`))
		}))

		t.Setenv("TEST_OPENAI_KEY", "revoked-key")
		p := NewOpenAIProvider("gpt-4o-mini", "TEST_OPENAI_KEY", server.URL, 5*time.Second)
		err := Check(context.Background(), p)
		server.Close()

		if (err != nil) != tt.wantErr {
			t.Errorf("status %d: Check error = %v, want error %v", tt.status, err, tt.wantErr)
		}
		if tt.wantErr && !IsAuthFailure(err) {
			t.Errorf("status %d: expected an auth failure, got %v", tt.status, err)
		}
	}
}

func TestIsAuthFailure(t *testing.T) {
	if !IsAuthFailure(&StatusError{Provider: "openai", Code: 401}) {
		t.Error("401 is an auth failure")
	}
	if IsAuthFailure(&StatusError{Provider: "openai", Code: 429}) {
		t.Error("429 is not an auth failure")
	}
	if IsAuthFailure(context.Canceled) {
		t.Error("cancellation is not an auth failure")
	}
}
