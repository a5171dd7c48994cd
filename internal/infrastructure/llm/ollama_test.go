package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"stackwatch/internal/config"
	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
)

func TestOllamaCompleteRoundTrip(t *testing.T) {
	t.Parallel()

	var got ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: `{"criticality":"HIGH"}`},
			Done:    true,
		})
	}))
	defer server.Close()

	client := NewOllamaClient(config.OllamaConfig{BaseURL: server.URL, Model: "llama3.1", Temperature: 0.2})
	reply, err := client.Complete(context.Background(), ports.CompletionRequest{
		System:    "you judge articles",
		Prompt:    "judge this",
		ForceJSON: true,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if reply != `{"criticality":"HIGH"}` {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if got.Format != "json" {
		t.Fatalf("ForceJSON must set format=json, got %q", got.Format)
	}
	if got.Stream {
		t.Fatalf("streaming must be disabled")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestOllamaCompleteServerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewOllamaClient(config.OllamaConfig{BaseURL: server.URL, Model: "llama3.1"})
	_, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "hi"})
	if !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestOllamaCompleteMisconfigured(t *testing.T) {
	t.Parallel()

	client := NewOllamaClient(config.OllamaConfig{})
	_, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("misconfiguration must not be retryable: %v", err)
	}
}
