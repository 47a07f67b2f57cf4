package models

import (
	"context"
	"fmt"
	"strings"
)

// userMarker introduces the user's turn in prompts built by the conversation engine.
const userMarker = "Current user message:\n"

// DummyLLM is an offline stand-in. It quotes the user's message back, or the last non-empty
// line of a prompt that has no user section, and never calls a tool.
type DummyLLM struct {
	Prefix string
}

func NewDummyLLM(prefix string) *DummyLLM {
	if strings.TrimSpace(prefix) == "" {
		prefix = "Dummy response:"
	}
	return &DummyLLM{Prefix: prefix}
}

func (d *DummyLLM) Generate(_ context.Context, prompt string) (string, error) {
	if _, rest, ok := strings.Cut(prompt, userMarker); ok {
		msg, _, _ := strings.Cut(rest, "\n\n")
		if msg = strings.TrimSpace(msg); msg != "" {
			return fmt.Sprintf("%s %s", d.Prefix, msg), nil
		}
	}
	lines := strings.Split(prompt, "\n")
	last := "<empty prompt>"
	for i := len(lines) - 1; i >= 0; i-- {
		if candidate := strings.TrimSpace(lines[i]); candidate != "" {
			last = candidate
			break
		}
	}
	return fmt.Sprintf("%s %s", d.Prefix, last), nil
}

var _ LLM = (*DummyLLM)(nil)
