// Package auth supplies the credentials attached to every API call.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Provider defines the interface for authentication providers that can
// obtain tokens and inject them into HTTP requests.
type Provider interface {
	// Token retrieves a valid authentication token, using cached values
	// when available and valid.
	Token(ctx context.Context) (string, error)

	// InjectHeader injects the authentication token into the Authorization
	// header of the provided HTTP request.
	InjectHeader(ctx context.Context, req *http.Request) error

	// Close releases any resources held by the provider.
	Close() error
}

// New picks a provider for the configured credentials: a token file wins
// over an inline token.
func New(token, tokenFile string) Provider {
	if path := strings.TrimSpace(tokenFile); path != "" {
		return NewFileTokenProvider(path, 0)
	}
	return NewStaticTokenProvider(token)
}

func setBearer(req *http.Request, token string) {
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
