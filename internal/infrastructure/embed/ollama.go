package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
)

// Client talks to an Ollama server for text embeddings.
type Client struct {
	baseURL  string
	model    string
	maxChars int
	http     *http.Client
}

var _ ports.Embedder = (*Client)(nil)

// NewClient creates a reusable embedding client. maxChars bounds input
// length; longer text keeps its leading portion, where the relevance signal
// concentrates (title plus opening body).
func NewClient(baseURL, model string, maxChars int) *Client {
	if maxChars <= 0 {
		maxChars = 2048
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		model:    model,
		maxChars: maxChars,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

// Embed sends the text for vectorization. Backend or decode failures wrap
// domain.ErrModelUnavailable so callers can retry a bounded number of times.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"model":  c.model,
		"prompt": Truncate(text, c.maxChars),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w: %v", domain.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding backend returned %s: %w", resp.Status, domain.ErrModelUnavailable)
	}

	var decoded struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embedding: %w: %v", domain.ErrModelUnavailable, err)
	}

	if len(decoded.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding for model %s: %w", c.model, domain.ErrModelUnavailable)
	}

	vector := make([]float32, len(decoded.Embedding))
	for i, v := range decoded.Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

// Truncate keeps the leading maxChars runes of text.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
