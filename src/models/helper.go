package models

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// NewLLMProvider returns the client for provider. systemPrompt is sent with every request.
func NewLLMProvider(ctx context.Context, provider, model, systemPrompt string) (LLM, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		return nonNil(NewOpenAILLM(model, systemPrompt))
	case "gemini", "google":
		return nonNil(NewGeminiLLM(ctx, model, systemPrompt))
	case "ollama":
		return nonNil(NewOllamaLLM(model, systemPrompt))
	case "anthropic", "claude":
		return nonNil(NewAnthropicLLM(model, systemPrompt))
	case "dummy", "":
		return NewDummyLLM(""), nil
	default:
		return nil, errdefs.Configf("unknown llm provider: %s", provider)
	}
}

func nonNil[T LLM](l T, err error) (LLM, error) {
	if err != nil {
		return nil, err
	}
	return l, nil
}

// classify marks transport failures so callers can tell a flaky model service from a
// rejected request.
func classify(provider string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		err = errdefs.Unavailable(err)
	}
	return &providerError{provider: provider, err: err}
}

type providerError struct {
	provider string
	err      error
}

func (e *providerError) Error() string { return e.provider + ": " + e.err.Error() }
func (e *providerError) Unwrap() error { return e.err }
