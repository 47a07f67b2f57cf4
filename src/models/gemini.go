package models

import (
	"context"
	"errors"
	"os"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

type GeminiLLM struct {
	Client       *genai.Client
	Model        string
	SystemPrompt string
}

func NewGeminiLLM(ctx context.Context, model, systemPrompt string) (*GeminiLLM, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errdefs.Configf("gemini: missing GOOGLE_API_KEY or GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errdefs.Configf("gemini init: %v", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiLLM{Client: client, Model: model, SystemPrompt: systemPrompt}, nil
}

func (g *GeminiLLM) Generate(ctx context.Context, prompt string) (string, error) {
	model := g.Client.GenerativeModel(g.Model)
	if prefix := strings.TrimSpace(g.SystemPrompt); prefix != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(prefix)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classify("gemini", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: empty response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

func (g *GeminiLLM) Close() error { return g.Client.Close() }
