package auth

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/api/idtoken"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

func TestStripBearer(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"abc":          "abc",
		"  ":           "",
		"Bearer":       "Bearer",
	}
	for in, want := range cases {
		if got := StripBearer(in); got != want {
			t.Errorf("StripBearer(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGoogleVerifier(t *testing.T) {
	if _, err := NewGoogleVerifier(""); !errors.Is(err, errdefs.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	g, err := NewGoogleVerifier("client-1")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var gotAudience string
	g.validate = func(_ context.Context, token, audience string) (*idtoken.Payload, error) {
		gotAudience = audience
		if token != "good" {
			return nil, errors.New("signature mismatch")
		}
		return &idtoken.Payload{Subject: "u-1", Claims: map[string]any{"name": "Ada", "email": "ada@example.com"}}, nil
	}

	u, err := g.Verify(context.Background(), "Bearer good")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if u != (User{ID: "u-1", Name: "Ada", Email: "ada@example.com"}) || gotAudience != "client-1" {
		t.Fatalf("unexpected user %+v audience %q", u, gotAudience)
	}
	if _, err := g.Verify(context.Background(), "bad"); !errors.Is(err, errdefs.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := g.Verify(context.Background(), ""); !errors.Is(err, errdefs.ErrAuth) {
		t.Fatalf("expected auth error for empty token, got %v", err)
	}
}

func TestStaticVerifier(t *testing.T) {
	v := StaticVerifier{"t1": {ID: "1", Name: "Grace"}}
	if u, err := v.Verify(context.Background(), "Bearer t1"); err != nil || u.Name != "Grace" {
		t.Fatalf("verify: %+v %v", u, err)
	}
	if _, err := v.Verify(context.Background(), "t2"); !errors.Is(err, errdefs.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
