package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

// TokenSource yields bearer tokens for search requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// FetchTokenFunc obtains a fresh token from the provider.
type FetchTokenFunc func(ctx context.Context) (*oauth2.Token, error)

// TokenCache reuses a token until shortly before it expires.
type TokenCache struct {
	fetch       FetchTokenFunc
	clock       monitor.Clock
	earlyExpiry time.Duration

	mu    sync.Mutex
	token *oauth2.Token
}

// NewTokenCache wraps fetch. earlyExpiry refreshes tokens that far ahead of expiry.
func NewTokenCache(fetch FetchTokenFunc, clock monitor.Clock, earlyExpiry time.Duration) *TokenCache {
	return &TokenCache{fetch: fetch, clock: clock, earlyExpiry: earlyExpiry}
}

// ClientCredentials builds a TokenCache over the OAuth2 client-credentials flow.
func ClientCredentials(cfg clientcredentials.Config, clock monitor.Clock) *TokenCache {
	return NewTokenCache(cfg.Token, clock, time.Minute)
}

// Token returns a cached access token, refreshing it when due.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if c == nil || c.fetch == nil {
		return "", errors.New("token cache not configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && c.fresh(c.token) {
		return c.token.AccessToken, nil
	}
	tok, err := c.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", errors.New("token provider returned empty token")
	}
	c.token = tok
	return tok.AccessToken, nil
}

// Invalidate drops the cached token, e.g. after a 401.
func (c *TokenCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

func (c *TokenCache) fresh(tok *oauth2.Token) bool {
	if tok.Expiry.IsZero() {
		return true
	}
	now := time.Now()
	if c.clock != nil {
		now = c.clock.Now()
	}
	return now.Add(c.earlyExpiry).Before(tok.Expiry)
}
