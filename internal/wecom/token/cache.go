// Package token caches platform access tokens per credential with
// single-flight refresh and explicit invalidation.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/open-wecom/kfsync/internal/platform/logutil"
)

// DefaultMargin is subtracted from the advertised token lifetime so a token
// is refreshed before the platform actually expires it.
const DefaultMargin = 5 * time.Minute

// FetchFunc retrieves a fresh token and its advertised lifetime.
type FetchFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

type entry struct {
	token     string
	expiresAt time.Time
}

// Cache holds access tokens keyed by hashed credential. Tokens live only in
// process memory. Concurrent requests for the same credential share a single
// fetch; distinct credentials fetch independently.
type Cache struct {
	margin time.Duration
	logger *slog.Logger
	now    func() time.Time

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]entry
}

// NewCache creates a cache with the given refresh margin. A non-positive
// margin falls back to DefaultMargin.
func NewCache(margin time.Duration, logger *slog.Logger) *Cache {
	if margin <= 0 {
		margin = DefaultMargin
	}
	return &Cache{
		margin:  margin,
		logger:  logutil.NoopIfNil(logger),
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// CredentialKey derives the cache key for a credential pair. The raw secret
// never serves as a map key or appears in logs.
func CredentialKey(corpID, secret string) string {
	sum := sha256.Sum256([]byte(corpID + ":" + secret))
	return hex.EncodeToString(sum[:])
}

// Token returns a valid cached token for the credential, fetching via fetch
// when the cache is empty or within the expiry margin.
func (c *Cache) Token(ctx context.Context, corpID, secret string, fetch FetchFunc) (string, error) {
	key := CredentialKey(corpID, secret)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.token, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent caller may have refreshed while we waited our turn.
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && c.now().Before(e.expiresAt) {
			return e.token, nil
		}

		tok, ttl, err := fetch(ctx)
		if err != nil {
			return "", fmt.Errorf("token fetch failed: %w", err)
		}

		expiresAt := c.now().Add(ttl - c.margin)
		if !expiresAt.After(c.now()) {
			// Token shorter-lived than the margin. The margin rule is
			// relaxed here: applying it would expire the entry immediately
			// and turn every call into a fetch. Such a token is kept for
			// its full advertised lifetime instead.
			expiresAt = c.now().Add(ttl)
		}

		c.mu.Lock()
		c.entries[key] = entry{token: tok, expiresAt: expiresAt}
		c.mu.Unlock()

		c.logger.Debug("access token refreshed", "credential", key[:8], "ttl", ttl)
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token for the credential so the next Token
// call fetches a fresh one.
func (c *Cache) Invalidate(corpID, secret string) {
	key := CredentialKey(corpID, secret)
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// Source binds one credential and fetch function to the cache, providing the
// two-method token interface API clients consume.
type Source struct {
	cache  *Cache
	corpID string
	secret string
	fetch  FetchFunc
}

// NewSource creates a token source for one credential.
func NewSource(cache *Cache, corpID, secret string, fetch FetchFunc) *Source {
	return &Source{cache: cache, corpID: corpID, secret: secret, fetch: fetch}
}

// Token returns a valid token for the bound credential.
func (s *Source) Token(ctx context.Context) (string, error) {
	return s.cache.Token(ctx, s.corpID, s.secret, s.fetch)
}

// Invalidate drops the cached token for the bound credential.
func (s *Source) Invalidate() {
	s.cache.Invalidate(s.corpID, s.secret)
}
