package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"stackwatch/internal/config"
	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
)

const anthropicMaxTokens = 1024

// AnthropicClient implements ports.Completer against the Anthropic API.
// It has no JSON output mode; callers relying on ForceJSON get the same
// behavior through prompt instructions plus the analyzer's fence stripping.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

var _ ports.Completer = (*AnthropicClient)(nil)

// NewAnthropicClient builds a client from configuration.
func NewAnthropicClient(cfg config.AnthropicConfig) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}
}

// Complete sends one message exchange and concatenates the text blocks of
// the reply.
func (c *AnthropicClient) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: anthropicMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic call: %w: %v", domain.ErrModelUnavailable, err)
	}

	var out strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}
