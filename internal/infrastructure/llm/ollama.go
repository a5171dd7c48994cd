package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stackwatch/internal/config"
	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
)

// OllamaClient implements ports.Completer against a local Ollama server.
type OllamaClient struct {
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

var _ ports.Completer = (*OllamaClient)(nil)

// NewOllamaClient builds a client from configuration.
func NewOllamaClient(cfg config.OllamaConfig) *OllamaClient {
	return &OllamaClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Complete posts one chat turn and returns the assistant reply. Network and
// server-side failures wrap domain.ErrModelUnavailable so the caller's
// bounded retry can distinguish them from fatal misconfiguration.
func (c *OllamaClient) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	if c.model == "" || c.baseURL == "" {
		return "", fmt.Errorf("ollama client misconfigured")
	}

	payload := ollamaChatRequest{
		Model:  c.model,
		Stream: false,
		Messages: []ollamaMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Options: map[string]any{"temperature": c.temperature},
	}
	if req.ForceJSON {
		payload.Format = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat request: %w: %v", domain.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ollama error %s: %s: %w", resp.Status, strings.TrimSpace(string(detail)), domain.ErrModelUnavailable)
	}

	var decoded ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode chat response: %w: %v", domain.ErrModelUnavailable, err)
	}

	return decoded.Message.Content, nil
}
