// Package models wraps the chat-completion APIs the assistant can talk to.
package models

import "context"

// Roles used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLM completes a single prompt. The system prompt is fixed at construction.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
