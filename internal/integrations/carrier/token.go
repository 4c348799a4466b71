package carrier

import (
	"context"
	"sync"
	"time"
)

type Token struct {
	Value     string
	ExpiresAt time.Time
}

type TokenFetcher func(ctx context.Context) (Token, error)

// TokenCache holds one bearer token per adapter instance and refreshes it
// once it is within skew of its expiry.
type TokenCache struct {
	mu    sync.Mutex
	tok   Token
	skew  time.Duration
	now   func() time.Time
	fetch TokenFetcher
}

func NewTokenCache(fetch TokenFetcher, skew time.Duration, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{fetch: fetch, skew: skew, now: now}
}

func (c *TokenCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tok.Value != "" && c.now().Add(c.skew).Before(c.tok.ExpiresAt) {
		return c.tok.Value, nil
	}
	tok, err := c.fetch(ctx)
	if err != nil {
		c.tok = Token{}
		return "", err
	}
	c.tok = tok
	return tok.Value, nil
}

// Invalidate drops the cached token, e.g. after the carrier rejected it.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.tok = Token{}
	c.mu.Unlock()
}
