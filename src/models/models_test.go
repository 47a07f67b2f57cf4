package models

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

func TestNewDummyLLMDefaultPrefix(t *testing.T) {
	got, err := NewDummyLLM("").Generate(context.Background(), "line1\nline2")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if got != "Dummy response: line2" {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestDummyLLMHandlesEmptyPrompt(t *testing.T) {
	got, _ := NewDummyLLM("Prefix").Generate(context.Background(), "\n\n\n")
	if got != "Prefix <empty prompt>" {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestDummyLLMQuotesUserMessage(t *testing.T) {
	prompt := "system\n\nCurrent user message:\nwhere is gate A3?\n\nEither call one tool or reply.\n"
	got, _ := NewDummyLLM("").Generate(context.Background(), prompt)
	if got != "Dummy response: where is gate A3?" {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestNewLLMProvider(t *testing.T) {
	ctx := context.Background()
	if _, err := NewLLMProvider(ctx, "unknown", "model", ""); !errors.Is(err, errdefs.ErrConfig) {
		t.Fatalf("expected config error for unknown provider, got %v", err)
	}
	llm, err := NewLLMProvider(ctx, "", "", "")
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if _, ok := llm.(*DummyLLM); !ok {
		t.Fatalf("expected dummy, got %T", llm)
	}
	t.Setenv("ANTHROPIC_API_KEY", "")
	if llm, err := NewLLMProvider(ctx, "claude", "", ""); err == nil || llm != nil {
		t.Fatalf("missing key should fail with a nil client, got %v %v", llm, err)
	}
}

func TestClassifyMarksNetworkErrors(t *testing.T) {
	err := classify("openai", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")})
	if !errors.Is(err, errdefs.ErrBackendUnavailable) || !strings.HasPrefix(err.Error(), "openai: ") {
		t.Fatalf("unexpected error %v", err)
	}
	if errors.Is(classify("openai", errors.New("bad request")), errdefs.ErrBackendUnavailable) {
		t.Fatal("request errors must not look transient")
	}
}

func TestOpenAILLMSendsSystemPrompt(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()
	t.Setenv("OPENAI_API_KEY", "test")
	t.Setenv("OPENAI_BASE_URL", srv.URL+"/v1")

	llm, err := NewOpenAILLM("", "You are an airport assistant.")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := llm.Generate(context.Background(), "hi")
	if err != nil || got != "hello there" {
		t.Fatalf("generate: %q %v", got, err)
	}
	if !strings.Contains(body, `"role":"system"`) || !strings.Contains(body, "airport assistant") {
		t.Fatalf("system prompt not sent: %s", body)
	}
}
