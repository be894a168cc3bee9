// Package identity resolves an optional caller identity from a bearer credential.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// ErrInvalidCredential is returned when a credential does not map to a user.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is a resolved caller.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Resolver maps a credential to an identity. An empty credential resolves to
// nil with no error.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (*Identity, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// GoogleResolver looks up the token owner through the OAuth2 userinfo API.
type GoogleResolver struct {
	opts []option.ClientOption
}

// NewGoogleResolver returns a resolver. opts are appended to every client,
// which lets tests point it at a local endpoint.
func NewGoogleResolver(opts ...option.ClientOption) *GoogleResolver {
	return &GoogleResolver{opts: opts}
}

func (g *GoogleResolver) Resolve(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, nil
	}
	token := &oauth2.Token{AccessToken: credential}
	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}, g.opts...)
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if info.Id == "" {
		return nil, ErrInvalidCredential
	}
	return &Identity{ID: info.Id, Email: info.Email, Name: info.Name}, nil
}

// StaticResolver resolves from a fixed token table.
type StaticResolver map[string]Identity

func (s StaticResolver) Resolve(_ context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, nil
	}
	id, ok := s[credential]
	if !ok {
		return nil, ErrInvalidCredential
	}
	return &id, nil
}
