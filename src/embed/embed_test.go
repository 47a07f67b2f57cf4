package embed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

func TestDeterministicEmbedding(t *testing.T) {
	a := DeterministicEmbedding("Fresh coffee and pastries")
	if len(a) != model.EmbeddingDimension {
		t.Fatalf("length %d", len(a))
	}
	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("expected unit vector, norm %v", norm)
	}
	b := DeterministicEmbedding("fresh COFFEE, and pastries!")
	if model.CosineSimilarity(a, b) < 0.9999 {
		t.Fatal("case and punctuation should not matter")
	}
	coffee := DeterministicEmbedding("coffee")
	if model.CosineSimilarity(coffee, a) <= model.CosineSimilarity(coffee, DeterministicEmbedding("duty free perfume")) {
		t.Fatal("shared words should rank higher")
	}
	if empty := DeterministicEmbedding("  "); empty[0] != 1 {
		t.Fatal("empty text should still give a unit vector")
	}
}

func TestCheckedRejectsWrongDimension(t *testing.T) {
	if _, err := checked("x", make([]float32, 10), nil); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := checked("x", nil, nil); err == nil {
		t.Fatal("empty vectors must fail")
	}
	timeout := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("i/o timeout")}
	if _, err := checked("x", nil, timeout); !errors.Is(err, errdefs.ErrBackendUnavailable) {
		t.Fatalf("network errors should be unavailable, got %v", err)
	}
}

func TestCachedMemoises(t *testing.T) {
	calls := 0
	inner := Func(func(_ context.Context, text string) ([]float32, error) {
		calls++
		return DeterministicEmbedding(text), nil
	})
	c := NewCached(inner, 8, time.Minute)
	first, err := c.Embed(context.Background(), "lounge")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	first[0] = 42
	second, _ := c.Embed(context.Background(), "lounge")
	if calls != 1 {
		t.Fatalf("expected one provider call, got %d", calls)
	}
	if second[0] == 42 {
		t.Fatal("cached vectors must not alias caller slices")
	}
	if c.Len() != 1 {
		t.Fatalf("len %d", c.Len())
	}
}

func TestCachedDoesNotStoreErrors(t *testing.T) {
	calls := 0
	inner := Func(func(context.Context, string) ([]float32, error) {
		calls++
		return nil, errors.New("boom")
	})
	c := NewCached(inner, 8, time.Minute)
	_, _ = c.Embed(context.Background(), "x")
	_, _ = c.Embed(context.Background(), "x")
	if calls != 2 || c.Len() != 0 {
		t.Fatalf("errors must not be cached: calls=%d len=%d", calls, c.Len())
	}
}

func TestNewSelectsProvider(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, "word2vec", ""); !errors.Is(err, errdefs.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	e, err := New(ctx, "deterministic", "")
	if err != nil {
		t.Fatalf("deterministic: %v", err)
	}
	if _, ok := e.(Deterministic); !ok {
		t.Fatalf("unexpected embedder %T", e)
	}
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_KEY", "")
	if e, err := New(ctx, "openai", ""); err == nil || e != nil {
		t.Fatalf("openai without key should fail with a nil embedder, got %v %v", e, err)
	}
	if !FastEmbedAvailable {
		if _, err := New(ctx, "fastembed", ""); !errors.Is(err, errdefs.ErrConfig) {
			t.Fatalf("expected config error without the fastembed tag, got %v", err)
		}
	}
}

func TestPassagesFallsBackToSingleCalls(t *testing.T) {
	out, err := Passages(context.Background(), Deterministic{}, []string{"a", "b"})
	if err != nil || len(out) != 2 {
		t.Fatalf("passages: %v %d", err, len(out))
	}
}

func TestOpenAIEmbedPassagesOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Dimensions != model.EmbeddingDimension {
			t.Errorf("dimensions %d", req.Dimensions)
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		var data []item
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Object: "embedding", Embedding: DeterministicEmbedding(req.Input[i]), Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "test"})
	}))
	defer srv.Close()
	t.Setenv("OPENAI_API_KEY", "test")
	t.Setenv("OPENAI_BASE_URL", srv.URL+"/v1")

	e, err := NewOpenAIEmbedder("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := e.EmbedPassages(context.Background(), []string{"coffee", "lounge"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if model.CosineSimilarity(out[0], DeterministicEmbedding("coffee")) < 0.999 {
		t.Fatal("passages out of order")
	}
	one, err := e.Embed(context.Background(), "gate")
	if err != nil || len(one) != model.EmbeddingDimension {
		t.Fatalf("single embed: %v", err)
	}
}
