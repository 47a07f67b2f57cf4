package models

import (
	"context"
	"errors"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

type OpenAILLM struct {
	Client       *openai.Client
	Model        string
	SystemPrompt string
}

func NewOpenAILLM(model, systemPrompt string) (*OpenAILLM, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_KEY")
	}
	if apiKey == "" {
		return nil, errdefs.Configf("openai: OPENAI_API_KEY is not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAILLM{Client: openai.NewClientWithConfig(cfg), Model: model, SystemPrompt: systemPrompt}, nil
}

func (o *OpenAILLM) Generate(ctx context.Context, prompt string) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if o.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.SystemPrompt})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := o.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{Model: o.Model, Messages: msgs})
	if err != nil {
		return "", classify("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}
