package models

import (
	"context"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// AnthropicLLM uses the Messages API.
type AnthropicLLM struct {
	Client       *anthropic.Client
	Model        string
	MaxTokens    int
	SystemPrompt string
}

// NewAnthropicLLM reads ANTHROPIC_API_KEY from the environment.
func NewAnthropicLLM(model, systemPrompt string) (*AnthropicLLM, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil, errdefs.Configf("anthropic: ANTHROPIC_API_KEY is not set")
	}
	opts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(key)}
	if base := os.Getenv("ANTHROPIC_BASE_URL"); base != "" {
		opts = append(opts, anthropicopt.WithBaseURL(base))
	}
	cl := anthropic.NewClient(opts...)
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &AnthropicLLM{Client: &cl, Model: model, MaxTokens: 1024, SystemPrompt: systemPrompt}, nil
}

// Generate performs a single-turn completion and returns the concatenated text blocks.
func (a *AnthropicLLM) Generate(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.Model),
		MaxTokens: int64(a.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if a.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.SystemPrompt}}
	}
	msg, err := a.Client.Messages.New(ctx, params)
	if err != nil {
		return "", classify("anthropic", err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}
