package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultTokenFileRefresh = 5 * time.Minute

// FileTokenProvider reads the token from a file and re-reads it after the
// refresh interval, so short-lived installation tokens rotated by another
// process are picked up mid-run.
type FileTokenProvider struct {
	path            string
	refresh         time.Duration
	now             func() time.Time
	mu              sync.Mutex
	cachedToken     string
	tokenExpiry     time.Time
	fetchInProgress bool
	fetchCond       *sync.Cond
}

// NewFileTokenProvider creates a provider for path. A refresh of zero selects
// five minutes.
func NewFileTokenProvider(path string, refresh time.Duration) *FileTokenProvider {
	if refresh <= 0 {
		refresh = defaultTokenFileRefresh
	}
	p := &FileTokenProvider{
		path:    path,
		refresh: refresh,
		now:     time.Now,
	}
	p.fetchCond = sync.NewCond(&p.mu)
	return p
}

// Token returns the cached token, reading the file again once it expires.
func (p *FileTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cachedToken != "" && p.now().Before(p.tokenExpiry) {
		return p.cachedToken, nil
	}

	for p.fetchInProgress {
		p.fetchCond.Wait()
		if p.cachedToken != "" && p.now().Before(p.tokenExpiry) {
			return p.cachedToken, nil
		}
	}

	p.fetchInProgress = true
	p.mu.Unlock()

	token, err := p.readToken(ctx)

	p.mu.Lock()
	p.fetchInProgress = false
	p.fetchCond.Broadcast()

	if err != nil {
		return "", err
	}

	p.cachedToken = token
	p.tokenExpiry = p.now().Add(p.refresh)
	return p.cachedToken, nil
}

func (p *FileTokenProvider) readToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", p.path)
	}
	return token, nil
}

// InjectHeader injects the current token into the Authorization header.
func (p *FileTokenProvider) InjectHeader(ctx context.Context, req *http.Request) error {
	token, err := p.Token(ctx)
	if err != nil {
		return err
	}
	setBearer(req, token)
	return nil
}

// Close drops the cached token.
func (p *FileTokenProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cachedToken = ""
	p.tokenExpiry = time.Time{}
	return nil
}
