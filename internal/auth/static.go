package auth

import (
	"context"
	"net/http"
	"strings"
)

// StaticTokenProvider returns a pre-configured token such as a personal
// access token or a GITHUB_TOKEN handed to the process.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a new static token provider with the given token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{
		token: strings.TrimSpace(token),
	}
}

// Token returns the static token immediately without any network calls.
func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	return p.token, nil
}

// InjectHeader sets the Authorization header. An empty token leaves the
// request anonymous.
func (p *StaticTokenProvider) InjectHeader(ctx context.Context, req *http.Request) error {
	setBearer(req, p.token)
	return nil
}

// Close is a no-op for static token providers.
func (p *StaticTokenProvider) Close() error {
	return nil
}
