package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bageldb/libraries/internal/auth"
	"github.com/bageldb/libraries/internal/constants"
	"github.com/bageldb/libraries/pkg/bagel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func fixedClock() time.Time { return testNow }

// seedSession writes a logged-in session whose access token expires at expiresAt.
func seedSession(t *testing.T, store auth.CredentialStore, access, refresh string, expiresAt time.Time) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, constants.KeyUser, "user-1"))
	require.NoError(t, store.Set(ctx, constants.KeyAccess, access))
	require.NoError(t, store.Set(ctx, constants.KeyRefresh, refresh))
	require.NoError(t, store.Set(ctx, constants.KeyExpires, auth.FormatExpiry(expiresAt)))
}

// countingRefresher rotates the stored tokens and counts network refreshes.
type countingRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	cache   *auth.TokenCache
}

func (r *countingRefresher) refresh(ctx context.Context) (string, error) {
	n := r.calls.Add(1)

	if r.release != nil {
		<-r.release
	}

	if r.err != nil {
		return "", r.err
	}

	token := "access-" + string(rune('0'+n))

	err := r.cache.StoreTokens(ctx, &auth.TokenResponse{Token: auth.Token{
		AccessToken:  token,
		RefreshToken: "refresh-rotated",
		ExpiresIn:    3600,
	}}, testNow)
	if err != nil {
		return "", err
	}

	return token, nil
}

func newTestCache(t *testing.T, store auth.CredentialStore, refresher *countingRefresher, opts ...auth.Option) *auth.TokenCache {
	t.Helper()

	opts = append([]auth.Option{auth.WithClock(fixedClock)}, opts...)

	cache, err := auth.NewTokenCache(store, refresher.refresh, opts...)
	require.NoError(t, err)

	refresher.cache = cache

	return cache
}

func TestNewTokenCache_Validation(t *testing.T) {
	t.Parallel()

	_, err := auth.NewTokenCache(nil, func(context.Context) (string, error) { return "", nil })
	require.ErrorIs(t, err, constants.ErrStoreRequired)

	_, err = auth.NewTokenCache(auth.NewMemoryStore(), nil)
	require.ErrorIs(t, err, constants.ErrRefresherRequired)
}

func TestTokenCache_GetValidAccessToken(t *testing.T) {
	t.Parallel()

	t.Run("returns a valid stored token without refreshing", func(t *testing.T) {
		t.Parallel()

		store := auth.NewMemoryStore()
		refresher := &countingRefresher{}
		cache := newTestCache(t, store, refresher)
		seedSession(t, store, "access-stored", "refresh-1", testNow.Add(time.Hour))

		token, err := cache.GetValidAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-stored", token)
		assert.Equal(t, int32(0), refresher.calls.Load())
	})

	t.Run("refreshes a token that expires exactly now", func(t *testing.T) {
		t.Parallel()

		store := auth.NewMemoryStore()
		refresher := &countingRefresher{}
		cache := newTestCache(t, store, refresher)
		seedSession(t, store, "access-stored", "refresh-1", testNow)

		token, err := cache.GetValidAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-1", token)
		assert.Equal(t, int32(1), refresher.calls.Load())

		refresh, _, err := store.Get(context.Background(), constants.KeyRefresh)
		require.NoError(t, err)
		assert.Equal(t, "refresh-rotated", refresh)
	})

	t.Run("treats an unparseable expiry as expired", func(t *testing.T) {
		t.Parallel()

		store := auth.NewMemoryStore()
		refresher := &countingRefresher{}
		cache := newTestCache(t, store, refresher)
		seedSession(t, store, "access-stored", "refresh-1", testNow.Add(time.Hour))
		require.NoError(t, store.Set(context.Background(), constants.KeyExpires, "tomorrow"))

		token, err := cache.GetValidAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-1", token)
	})

	t.Run("returns empty without a session", func(t *testing.T) {
		t.Parallel()

		refresher := &countingRefresher{}
		cache := newTestCache(t, auth.NewMemoryStore(), refresher)

		token, err := cache.GetValidAccessToken(context.Background())
		require.NoError(t, err)
		assert.Empty(t, token)
		assert.Equal(t, int32(0), refresher.calls.Load())
	})

	t.Run("store then get does not refresh", func(t *testing.T) {
		t.Parallel()

		refresher := &countingRefresher{}
		cache := newTestCache(t, auth.NewMemoryStore(), refresher)

		err := cache.StoreTokens(context.Background(), &auth.TokenResponse{Token: auth.Token{
			AccessToken:  "fresh",
			RefreshToken: "refresh-1",
			ExpiresIn:    60,
		}}, testNow)
		require.NoError(t, err)

		token, err := cache.GetValidAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "fresh", token)
		assert.Equal(t, int32(0), refresher.calls.Load())
	})
}

func TestTokenCache_ConcurrentCallersShareOneRefresh(t *testing.T) {
	t.Parallel()

	store := auth.NewMemoryStore()
	refresher := &countingRefresher{release: make(chan struct{})}
	cache := newTestCache(t, store, refresher)
	seedSession(t, store, "access-expired", "refresh-1", testNow.Add(-time.Minute))

	const callers = 10

	var wg sync.WaitGroup

	tokens := make([]string, callers)

	for i := range callers {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			token, err := cache.GetValidAccessToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}

	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(refresher.release)
	wg.Wait()

	assert.Equal(t, int32(1), refresher.calls.Load())

	for _, token := range tokens {
		assert.Equal(t, "access-1", token)
	}
}

func TestTokenCache_ForceRefresh(t *testing.T) {
	t.Parallel()

	store := auth.NewMemoryStore()
	refresher := &countingRefresher{}
	cache := newTestCache(t, store, refresher)
	seedSession(t, store, "access-stored", "refresh-1", testNow.Add(time.Hour))

	token, err := cache.ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	token, err = cache.ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", token, "a settled flight is forgotten")
}

func TestTokenCache_RefreshFailure(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := bagel.NewMetrics(reg)

	store := auth.NewMemoryStore()
	refreshErr := errors.New("refresh rejected")
	refresher := &countingRefresher{err: refreshErr}
	cache := newTestCache(t, store, refresher, auth.WithMetrics(metrics))
	seedSession(t, store, "access-expired", "refresh-1", testNow.Add(-time.Minute))

	_, err := cache.GetValidAccessToken(context.Background())
	require.ErrorIs(t, err, refreshErr)

	count, err := testutil.GatherAndCount(reg, "bagel_session_token_refreshes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTokenCache_CancelledWaiterLeavesFlightRunning(t *testing.T) {
	t.Parallel()

	store := auth.NewMemoryStore()
	refresher := &countingRefresher{release: make(chan struct{})}
	cache := newTestCache(t, store, refresher)
	seedSession(t, store, "access-expired", "refresh-1", testNow.Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		_, err := cache.GetValidAccessToken(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(refresher.release)

	require.Eventually(t, func() bool {
		token, err := cache.Current(context.Background())

		return err == nil && token.AccessToken == "access-1"
	}, time.Second, time.Millisecond)
}

func TestTokenCache_Invalidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := auth.NewMemoryStore()
	cache := newTestCache(t, store, &countingRefresher{})
	seedSession(t, store, "access", "refresh", testNow.Add(time.Hour))
	require.NoError(t, store.Set(ctx, constants.KeyNonce, "nonce"))
	require.NoError(t, store.Set(ctx, "unrelated", "kept"))

	require.NoError(t, cache.Invalidate(ctx))
	require.NoError(t, cache.Invalidate(ctx))

	for _, key := range constants.SessionKeys {
		_, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}

	value, _, err := store.Get(ctx, "unrelated")
	require.NoError(t, err)
	assert.Equal(t, "kept", value)

	active, err := cache.IsSessionActive(ctx)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestTokenCache_IsSessionActive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		execCtx bagel.ExecutionContext
		userID  string
		want    bool
	}{
		{name: "browser with user", execCtx: bagel.ContextBrowser, userID: "user-1", want: true},
		{name: "react native with user", execCtx: bagel.ContextReactNative, userID: "user-1", want: true},
		{name: "browser without user", execCtx: bagel.ContextBrowser, want: false},
		{name: "server with user", execCtx: bagel.ContextServer, userID: "user-1", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := auth.NewMemoryStore()
			if tt.userID != "" {
				require.NoError(t, store.Set(context.Background(), constants.KeyUser, tt.userID))
			}

			cache := newTestCache(t, store, &countingRefresher{}, auth.WithExecutionContext(tt.execCtx))

			active, err := cache.IsSessionActive(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, active)
		})
	}
}

func TestTokenCache_TokenSource(t *testing.T) {
	t.Parallel()

	store := auth.NewMemoryStore()
	cache := newTestCache(t, store, &countingRefresher{})

	_, err := cache.TokenSource(context.Background()).Token()
	require.ErrorIs(t, err, bagel.ErrNoActiveSession)

	seedSession(t, store, "access-stored", "refresh-1", testNow.Add(time.Hour))

	token, err := cache.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, "access-stored", token.AccessToken)
	assert.Equal(t, "refresh-1", token.RefreshToken)
}
