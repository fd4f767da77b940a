// Package auth supplies access tokens for the Volt API.
//
// A token is an opaque bearer credential. Providers cache the most recent
// value and replace it wholesale on refresh; callers that must not reuse a
// credential (the feed manager on reconnect) call ForceRefresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNoToken is returned when a provider has no cached token and cannot
// fetch one.
var ErrNoToken = errors.New("no access token available")

// InvalidLoginError indicates the credential service rejected the
// credentials themselves. It is never retriable.
type InvalidLoginError struct {
	Reason string
}

func (e *InvalidLoginError) Error() string {
	return fmt.Sprintf("invalid login: %s", e.Reason)
}

// IsInvalidLogin reports whether err is a credential rejection.
func IsInvalidLogin(err error) bool {
	var ile *InvalidLoginError
	return errors.As(err, &ile)
}

// TokenProvider supplies a currently-valid access token on demand.
type TokenProvider interface {
	// Token returns the cached token, fetching one if none is cached.
	Token(ctx context.Context) (string, error)

	// ForceRefresh discards the cached token and fetches a new one.
	ForceRefresh(ctx context.Context) (string, error)
}

// RefreshFunc fetches a new access token from the credential service.
// A credential rejection must be returned as *InvalidLoginError.
type RefreshFunc func(ctx context.Context) (string, error)

// Provider is a TokenProvider backed by a RefreshFunc with a cached value.
type Provider struct {
	refresh RefreshFunc
	logger  *slog.Logger

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

// NewProvider creates a refreshing token provider.
func NewProvider(refresh RefreshFunc, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		refresh: refresh,
		logger:  logger,
	}
}

// Token returns the cached token, fetching one on first use.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.token != "" {
		tok := p.token
		p.mu.Unlock()
		return tok, nil
	}
	p.mu.Unlock()

	return p.ForceRefresh(ctx)
}

// ForceRefresh fetches a new token and replaces the cached one.
// The old token is discarded even if the fetch fails.
func (p *Provider) ForceRefresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()

	tok, err := p.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if tok == "" {
		return "", ErrNoToken
	}

	p.mu.Lock()
	p.token = tok
	p.fetchedAt = time.Now()
	p.mu.Unlock()

	p.logger.Debug("access token refreshed")
	return tok, nil
}

// FetchedAt returns when the cached token was obtained.
func (p *Provider) FetchedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetchedAt
}

// Static is a TokenProvider that always returns the same token, for
// long-lived personal access tokens and for tests.
type Static struct {
	token string
}

// NewStatic creates a static token provider.
func NewStatic(token string) *Static {
	return &Static{token: token}
}

// Token returns the fixed token.
func (s *Static) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// ForceRefresh returns the fixed token; a static credential cannot be
// rotated.
func (s *Static) ForceRefresh(ctx context.Context) (string, error) {
	return s.Token(ctx)
}
