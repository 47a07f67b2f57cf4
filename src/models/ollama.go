package models

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

type OllamaLLM struct {
	Client       *ollama.Client
	Model        string
	SystemPrompt string
}

func NewOllamaLLM(model, systemPrompt string) (*OllamaLLM, error) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, errdefs.Configf("invalid OLLAMA_HOST %q: %v", host, err)
	}
	if model == "" {
		model = "llama3.1"
	}
	c := ollama.NewClient(u, &http.Client{Timeout: 120 * time.Second})
	return &OllamaLLM{Client: c, Model: model, SystemPrompt: systemPrompt}, nil
}

// Generate collects the streamed chunks into one reply.
func (o *OllamaLLM) Generate(ctx context.Context, prompt string) (string, error) {
	var text strings.Builder
	req := &ollama.GenerateRequest{
		Model:  o.Model,
		Prompt: prompt,
		System: o.SystemPrompt,
	}
	if err := o.Client.Generate(ctx, req, func(gr ollama.GenerateResponse) error {
		text.WriteString(gr.Response)
		return nil
	}); err != nil {
		return "", classify("ollama", err)
	}
	return text.String(), nil
}
