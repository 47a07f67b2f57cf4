// Package auth resolves bearer tokens to the user a session acts for.
package auth

import (
	"context"
	"strings"

	"google.golang.org/api/idtoken"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// User is the identity attached to tickets.
type User struct {
	ID    string
	Name  string
	Email string
}

// Verifier checks a bearer token. Invalid or expired tokens fail with errdefs.ErrAuth.
type Verifier interface {
	Verify(ctx context.Context, token string) (User, error)
}

// StripBearer accepts "Bearer <token>" or a bare token.
func StripBearer(header string) string {
	h := strings.TrimSpace(header)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}

// GoogleVerifier validates Google-signed ID tokens issued for Audience (the OAuth client id).
type GoogleVerifier struct {
	Audience string
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

func NewGoogleVerifier(clientID string) (*GoogleVerifier, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, errdefs.Configf("google verifier: client id is required")
	}
	return &GoogleVerifier{Audience: clientID, validate: idtoken.Validate}, nil
}

func (g *GoogleVerifier) Verify(ctx context.Context, token string) (User, error) {
	token = StripBearer(token)
	if token == "" {
		return User{}, errdefs.Authf("missing id token")
	}
	payload, err := g.validate(ctx, token, g.Audience)
	if err != nil {
		return User{}, errdefs.Authf("invalid id token: %v", err)
	}
	u := User{ID: payload.Subject, Name: claim(payload, "name"), Email: claim(payload, "email")}
	if u.ID == "" {
		return User{}, errdefs.Authf("id token has no subject")
	}
	return u, nil
}

func claim(p *idtoken.Payload, key string) string {
	v, _ := p.Claims[key].(string)
	return v
}

// StaticVerifier maps fixed tokens to users. Used for local runs and tests.
type StaticVerifier map[string]User

func (s StaticVerifier) Verify(_ context.Context, token string) (User, error) {
	u, ok := s[StripBearer(token)]
	if !ok {
		return User{}, errdefs.Authf("unknown token")
	}
	return u, nil
}
