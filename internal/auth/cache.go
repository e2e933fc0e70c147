package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bageldb/libraries/internal/constants"
	"github.com/bageldb/libraries/pkg/bagel"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// RefreshFunc exchanges the stored refresh token for a new token pair,
// persists it and returns the new access token.
type RefreshFunc func(ctx context.Context) (string, error)

// refreshFlightKey is the single singleflight key: at most one refresh is in
// flight per cache.
const refreshFlightKey = "refresh"

// flightResult is what a refresh flight hands to every waiter.
type flightResult struct {
	token string
	// refreshed is false when the flight found a valid token already stored
	// and skipped the network call.
	refreshed bool
}

// TokenCache owns the session's access/refresh/expiry triple and serializes
// refreshes: concurrent callers share one in-flight refresh, and the flight
// is forgotten once it settles so a later expiry starts a fresh one.
type TokenCache struct {
	store   CredentialStore
	refresh RefreshFunc
	opts    *options

	// mu makes the triple written by StoreTokens observable as a unit.
	mu     sync.RWMutex
	flight singleflight.Group
}

// NewTokenCache creates a cache over store that refreshes through refresh.
func NewTokenCache(store CredentialStore, refresh RefreshFunc, opts ...Option) (*TokenCache, error) {
	if store == nil {
		return nil, constants.ErrStoreRequired
	}

	if refresh == nil {
		return nil, constants.ErrRefresherRequired
	}

	return &TokenCache{
		store:   store,
		refresh: refresh,
		opts:    newOptions(opts),
	}, nil
}

// GetValidAccessToken returns the stored access token while it is valid.
// Otherwise, if a refresh token is stored, it refreshes (sharing any refresh
// already in flight) and returns the new token. With no session at all it
// returns "" so the caller can fall back to the static API token.
func (c *TokenCache) GetValidAccessToken(ctx context.Context) (string, error) {
	token, err := c.Current(ctx)
	if err != nil {
		return "", err
	}

	if token.ValidAt(c.opts.now()) {
		return token.AccessToken, nil
	}

	if token.RefreshToken == "" {
		return "", nil
	}

	result, err := c.doRefresh(ctx, false)
	if err != nil {
		return "", err
	}

	return result.token, nil
}

// ForceRefresh refreshes regardless of the stored expiry. It is used after a
// 401, where the stored expiry may be wrong because of clock skew.
func (c *TokenCache) ForceRefresh(ctx context.Context) (string, error) {
	result, err := c.doRefresh(ctx, true)
	if err != nil {
		return "", err
	}

	// Joined a lazy flight that reused the stored token, which is the one
	// that was just rejected.
	if !result.refreshed {
		result, err = c.doRefresh(ctx, true)
		if err != nil {
			return "", err
		}
	}

	return result.token, nil
}

func (c *TokenCache) doRefresh(ctx context.Context, force bool) (flightResult, error) {
	ch := c.flight.DoChan(refreshFlightKey, func() (interface{}, error) {
		// The flight outlives any single caller's cancellation.
		flightCtx := context.WithoutCancel(ctx)

		if !force {
			token, err := c.Current(flightCtx)
			if err == nil && token.ValidAt(c.opts.now()) {
				return flightResult{token: token.AccessToken}, nil
			}
		}

		c.opts.logger.Debug("Refreshing access token", map[string]interface{}{
			"forced": force,
		})

		accessToken, err := c.refresh(flightCtx)
		c.opts.metrics.ObserveRefresh(err)

		if err != nil {
			c.opts.logger.Warn("Access token refresh failed", map[string]interface{}{
				"error": err.Error(),
			})

			return flightResult{}, err
		}

		return flightResult{token: accessToken, refreshed: true}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return flightResult{}, res.Err
		}

		result, _ := res.Val.(flightResult)

		return result, nil
	case <-ctx.Done():
		return flightResult{}, fmt.Errorf("waiting for token refresh: %w", ctx.Err())
	}
}

// IsSessionActive reports whether a user session is active: the host must be
// user-capable and a non-empty user id must be stored.
func (c *TokenCache) IsSessionActive(ctx context.Context) (bool, error) {
	if !c.opts.execCtx.UserCapable() {
		return false, nil
	}

	userID, _, err := c.store.Get(ctx, constants.KeyUser)
	if err != nil {
		return false, err
	}

	return userID != "", nil
}

// Current returns the stored triple. A missing or unparseable expiry leaves
// ExpiresAt zero, which makes the token invalid.
func (c *TokenCache) Current(ctx context.Context) (*Token, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	access, _, err := c.store.Get(ctx, constants.KeyAccess)
	if err != nil {
		return nil, err
	}

	refresh, _, err := c.store.Get(ctx, constants.KeyRefresh)
	if err != nil {
		return nil, err
	}

	rawExpiry, _, err := c.store.Get(ctx, constants.KeyExpires)
	if err != nil {
		return nil, err
	}

	token := &Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
	}

	if expiresAt, parseErr := ParseExpiry(rawExpiry); parseErr == nil {
		token.ExpiresAt = expiresAt
	}

	return token, nil
}

// StoreTokens persists a freshly issued token. The expiry is computed from
// issuedAt; a response without a refresh token keeps the stored one.
func (c *TokenCache) StoreTokens(ctx context.Context, resp *TokenResponse, issuedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := ExpiryFor(issuedAt, resp.ExpiresIn, resp.AccessToken)

	err := c.store.Set(ctx, constants.KeyAccess, resp.AccessToken)
	if err != nil {
		return err
	}

	if resp.RefreshToken != "" {
		err = c.store.Set(ctx, constants.KeyRefresh, resp.RefreshToken)
		if err != nil {
			return err
		}
	}

	return c.store.Set(ctx, constants.KeyExpires, FormatExpiry(expiresAt))
}

// StoreUser marks userID as the session's user.
func (c *TokenCache) StoreUser(ctx context.Context, userID string) error {
	return c.store.Set(ctx, constants.KeyUser, userID)
}

// UserID returns the stored user id, or "".
func (c *TokenCache) UserID(ctx context.Context) (string, error) {
	userID, _, err := c.store.Get(ctx, constants.KeyUser)

	return userID, err
}

// Invalidate removes every session key. Keys that are already gone are fine,
// so calling it twice is a no-op the second time.
func (c *TokenCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	for _, key := range constants.SessionKeys {
		err := c.store.Remove(ctx, key)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// TokenSource exposes the cache as an oauth2.TokenSource, refreshing through
// the same single flight as every other caller.
func (c *TokenCache) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &cacheTokenSource{ctx: ctx, cache: c}
}

type cacheTokenSource struct {
	ctx   context.Context
	cache *TokenCache
}

func (s *cacheTokenSource) Token() (*oauth2.Token, error) {
	accessToken, err := s.cache.GetValidAccessToken(s.ctx)
	if err != nil {
		return nil, err
	}

	if accessToken == "" {
		return nil, bagel.ErrNoActiveSession
	}

	token, err := s.cache.Current(s.ctx)
	if err != nil {
		return nil, err
	}

	// Current may lag a concurrent rotation; the access token just returned wins.
	token.AccessToken = accessToken

	return token.OAuth2(), nil
}
