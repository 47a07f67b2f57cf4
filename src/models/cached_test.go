package models

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type countingLLM struct {
	calls int32
	err   error
}

func (m *countingLLM) Generate(_ context.Context, prompt string) (string, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.err != nil {
		return "", m.err
	}
	return "reply to " + prompt, nil
}

func TestCachedLLMGenerate(t *testing.T) {
	mock := &countingLLM{}
	cached := NewCachedLLM(mock, 10, time.Minute, "")
	ctx := context.Background()

	if _, err := cached.Generate(ctx, "hello"); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	got, err := cached.Generate(ctx, "hello")
	if err != nil || got != "reply to hello" {
		t.Fatalf("second call: %q %v", got, err)
	}
	if n := atomic.LoadInt32(&mock.calls); n != 1 {
		t.Errorf("expected 1 call (cached), got %d", n)
	}
	if _, err := cached.Generate(ctx, "world"); err != nil {
		t.Fatalf("third call failed: %v", err)
	}
	if n := atomic.LoadInt32(&mock.calls); n != 2 {
		t.Errorf("expected 2 calls, got %d", n)
	}
}

func TestCachedLLMSkipsErrors(t *testing.T) {
	mock := &countingLLM{err: errors.New("rate limited")}
	cached := NewCachedLLM(mock, 10, time.Minute, "")
	for i := 0; i < 2; i++ {
		if _, err := cached.Generate(context.Background(), "x"); err == nil {
			t.Fatal("expected error")
		}
	}
	if n := atomic.LoadInt32(&mock.calls); n != 2 {
		t.Fatalf("errors must not be cached, calls=%d", n)
	}
}

func TestCachedLLMPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	first := NewCachedLLM(&countingLLM{}, 10, time.Hour, path)
	if _, err := first.Generate(context.Background(), "gate"); err != nil {
		t.Fatalf("generate: %v", err)
	}

	mock := &countingLLM{}
	second := NewCachedLLM(mock, 10, time.Hour, path)
	got, err := second.Generate(context.Background(), "gate")
	if err != nil || got != "reply to gate" {
		t.Fatalf("restored call: %q %v", got, err)
	}
	if n := atomic.LoadInt32(&mock.calls); n != 0 {
		t.Fatalf("expected the restored cache to answer, got %d calls", n)
	}
}

func TestTryCachedLLM(t *testing.T) {
	base := &countingLLM{}
	t.Setenv("LLM_CACHE_SIZE", "")
	if TryCachedLLM(base) != LLM(base) {
		t.Fatal("no size should leave the model unwrapped")
	}
	t.Setenv("LLM_CACHE_SIZE", "4")
	t.Setenv("LLM_CACHE_PATH", filepath.Join(t.TempDir(), "c.json"))
	if _, ok := TryCachedLLM(base).(*CachedLLM); !ok {
		t.Fatal("expected a cached wrapper")
	}
}
