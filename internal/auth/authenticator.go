package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bageldb/libraries/internal/constants"
	bagelhttp "github.com/bageldb/libraries/internal/http"
	"github.com/bageldb/libraries/pkg/bagel"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// User is the profile returned by GET /user.
type User = bagel.User

type otpResponse struct {
	Nonce     string `json:"nonce"`
	ExpiresIn int64  `json:"expires_in"`
}

var _ bagel.UsersClient = (*Authenticator)(nil)

// Authenticator performs the auth service operations and keeps the token
// cache and credential store in step with their results.
type Authenticator struct {
	requests *Pipeline
	store    CredentialStore
	cache    *TokenCache
	opts     *options
}

// NewAuthenticator creates an authenticator that talks to the auth service
// through transport and persists the session in store. Its requests pass
// through their own Pipeline, so they carry the version header, the custom
// headers and apiToken (or the session token for the profile).
func NewAuthenticator(transport bagelhttp.Doer, store CredentialStore, apiToken string, opts ...Option) (*Authenticator, error) {
	if transport == nil {
		return nil, constants.ErrTransportRequired
	}

	a := &Authenticator{
		store: store,
		opts:  newOptions(opts),
	}

	cache, err := NewTokenCache(store, a.exchangeRefreshToken, opts...)
	if err != nil {
		return nil, err
	}

	a.cache = cache

	a.requests, err = NewPipeline(transport, a, apiToken, opts...)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Cache returns the token cache the authenticator refreshes.
func (a *Authenticator) Cache() *TokenCache {
	return a.cache
}

// ExecutionContext returns the configured host kind.
func (a *Authenticator) ExecutionContext() bagel.ExecutionContext {
	return a.opts.execCtx
}

// CreateAccount registers a user and returns its id. Outside a server context
// the returned tokens are stored and the session becomes active.
func (a *Authenticator) CreateAccount(ctx context.Context, email, password string) (string, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		return "", err
	}

	data, err := a.postJSON(ctx, "create account", constants.PathUser, http.StatusCreated, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", err
	}

	var resp TokenResponse

	err = bagelhttp.DecodeJSON(data, &resp)
	if err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}

	if a.opts.execCtx == bagel.ContextServer {
		return resp.UserID, nil
	}

	err = a.storeSession(ctx, &resp)
	if err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}

	a.opts.logger.Info("Account created", map[string]interface{}{"user_id": resp.UserID})

	return resp.UserID, nil
}

// ValidateCredentials logs a user in with email and password and returns its id.
func (a *Authenticator) ValidateCredentials(ctx context.Context, email, password string) (string, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		return "", err
	}

	data, err := a.postJSON(ctx, "validate credentials", constants.PathUserVerify, http.StatusOK, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", err
	}

	var resp TokenResponse

	err = bagelhttp.DecodeJSON(data, &resp)
	if err != nil {
		return "", fmt.Errorf("validate credentials: %w", err)
	}

	err = a.storeSession(ctx, &resp)
	if err != nil {
		return "", fmt.Errorf("validate credentials: %w", err)
	}

	a.opts.logger.Info("User logged in", map[string]interface{}{"user_id": resp.UserID})

	return resp.UserID, nil
}

// RequestOneTimePasscode asks the service to send an OTP to an email address
// or E.164 phone number. The returned nonce is also stored, with its expiry,
// for VerifyOneTimePasscode.
func (a *Authenticator) RequestOneTimePasscode(ctx context.Context, emailOrPhone string) (string, error) {
	emailOrPhone = normalizeEmail(emailOrPhone)

	err := validation.Validate(emailOrPhone,
		validation.Required,
		validation.By(func(value interface{}) error {
			s, _ := value.(string)
			if is.EmailFormat.Validate(s) == nil || is.E164.Validate(s) == nil {
				return nil
			}

			return errors.New("must be an email address or an E.164 phone number")
		}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: email or phone %w", bagel.ErrInvalidCredentials, err)
	}

	data, err := a.postJSON(ctx, "request OTP", constants.PathUserOTP, http.StatusOK, map[string]string{
		"emailOrPhone": emailOrPhone,
	})
	if err != nil {
		return "", err
	}

	var resp otpResponse

	err = bagelhttp.DecodeJSON(data, &resp)
	if err != nil {
		return "", fmt.Errorf("request OTP: %w", err)
	}

	expiresAt := a.opts.now().Add(secondsToDuration(resp.ExpiresIn))

	err = a.store.Set(ctx, constants.KeyNonce, resp.Nonce)
	if err != nil {
		return "", fmt.Errorf("request OTP: %w", err)
	}

	err = a.store.Set(ctx, constants.KeyNonceExpires, FormatExpiry(expiresAt))
	if err != nil {
		return "", fmt.Errorf("request OTP: %w", err)
	}

	return resp.Nonce, nil
}

// VerifyOneTimePasscode exchanges the stored nonce and code for a session and
// returns the user id. An expired or missing nonce fails before any request.
func (a *Authenticator) VerifyOneTimePasscode(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)

	err := validation.Validate(code, validation.Required)
	if err != nil {
		return "", fmt.Errorf("%w: code %w", bagel.ErrInvalidCredentials, err)
	}

	nonce, err := a.pendingNonce(ctx)
	if err != nil {
		return "", err
	}

	data, err := a.postJSON(ctx, "verify OTP", constants.PathUserOTPVerify+url.PathEscape(nonce), http.StatusOK, map[string]string{
		"otp": code,
	})
	if err != nil {
		return "", err
	}

	var resp TokenResponse

	err = bagelhttp.DecodeJSON(data, &resp)
	if err != nil {
		return "", fmt.Errorf("verify OTP: %w", err)
	}

	err = a.storeSession(ctx, &resp)
	if err != nil {
		return "", fmt.Errorf("verify OTP: %w", err)
	}

	// The nonce is single use.
	for _, key := range []string{constants.KeyNonce, constants.KeyNonceExpires} {
		removeErr := a.store.Remove(ctx, key)
		if removeErr != nil {
			a.opts.logger.Warn("Failed to remove used nonce", map[string]interface{}{
				"key":   key,
				"error": removeErr.Error(),
			})
		}
	}

	return resp.UserID, nil
}

func (a *Authenticator) pendingNonce(ctx context.Context) (string, error) {
	nonce, _, err := a.store.Get(ctx, constants.KeyNonce)
	if err != nil {
		return "", err
	}

	if nonce == "" {
		return "", bagel.ErrNonceNotRequested
	}

	rawExpiry, _, err := a.store.Get(ctx, constants.KeyNonceExpires)
	if err != nil {
		return "", err
	}

	expiresAt, err := ParseExpiry(rawExpiry)
	if err != nil || !a.opts.now().Before(expiresAt) {
		return "", bagel.ErrExpiredNonce
	}

	return nonce, nil
}

// Refresh exchanges the stored refresh token for a new pair and returns the
// new access token. Concurrent calls share one network refresh. A refresh
// the auth service rejects logs the user out and returns ErrSessionExpired.
func (a *Authenticator) Refresh(ctx context.Context) (string, error) {
	token, err := a.cache.ForceRefresh(ctx)
	if err != nil {
		if bagel.KindOf(err) == bagel.KindUpstreamAuth {
			return "", a.expireSession(ctx, err)
		}

		return "", err
	}

	return token, nil
}

// expireSession clears the session after the auth service refused to renew
// it and returns ErrSessionExpired wrapping cause.
func (a *Authenticator) expireSession(ctx context.Context, cause error) error {
	a.opts.logger.Warn("Session refresh failed, logging out", map[string]interface{}{
		"error": cause.Error(),
	})

	logoutErr := a.Logout(ctx)
	if logoutErr != nil {
		return fmt.Errorf("%w: %w", bagel.ErrSessionExpired, errors.Join(cause, logoutErr))
	}

	return fmt.Errorf("%w: %w", bagel.ErrSessionExpired, cause)
}

// exchangeRefreshToken is the network half of Refresh; the token cache runs
// it inside its single flight.
func (a *Authenticator) exchangeRefreshToken(ctx context.Context) (string, error) {
	refreshToken, _, err := a.store.Get(ctx, constants.KeyRefresh)
	if err != nil {
		return "", err
	}

	if refreshToken == "" {
		return "", bagel.ErrNoActiveSession
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", constants.RefreshClientID)

	issuedAt := a.opts.now()

	data, err := a.requests.Do(ctx, bagelhttp.NewFormRequest(constants.PathUserToken, form))
	if err != nil {
		return "", upstreamAuthError("refresh token", err)
	}

	if data.StatusCode != http.StatusOK {
		return "", unexpectedStatus("refresh token", http.MethodPost, constants.PathUserToken, data)
	}

	var resp TokenResponse

	err = bagelhttp.DecodeJSON(data, &resp)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}

	if resp.AccessToken == "" {
		return "", fmt.Errorf("refresh token: %w", bagel.ErrNoActiveSession)
	}

	err = a.cache.StoreTokens(ctx, &resp, issuedAt)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}

	return resp.AccessToken, nil
}

// Logout clears every session key. It never contacts the network and
// succeeds when no session exists.
func (a *Authenticator) Logout(ctx context.Context) error {
	err := a.cache.Invalidate(ctx)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	a.opts.logger.Debug("Session cleared", nil)

	return nil
}

// GetCurrentUser fetches the logged-in user's profile with the session token.
// A 401 refreshes the session and replays the request once.
func (a *Authenticator) GetCurrentUser(ctx context.Context) (*User, error) {
	active, err := a.cache.IsSessionActive(ctx)
	if err != nil {
		return nil, err
	}

	if !active {
		return nil, fmt.Errorf("get current user: %w", bagel.ErrNoActiveSession)
	}

	data, err := a.requests.Get(ctx, constants.PathUser, nil)
	if err != nil {
		return nil, upstreamAuthError("get current user", err)
	}

	if data.StatusCode != http.StatusOK {
		return nil, unexpectedStatus("get current user", http.MethodGet, constants.PathUser, data)
	}

	var user User

	err = bagelhttp.DecodeJSON(data, &user)
	if err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}

	return &user, nil
}

// RequestPasswordReset asks the service to email a password reset link.
func (a *Authenticator) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	err := validation.Validate(email, validation.Required, is.EmailFormat)
	if err != nil {
		return fmt.Errorf("%w: email %w", bagel.ErrInvalidCredentials, err)
	}

	_, err = a.postJSON(ctx, "request password reset", constants.PathResetPassword, http.StatusOK, map[string]string{
		"email": email,
	})

	return err
}

// UpdatePassword sets a user's password. It is only available in a server
// context, where the static API token authorizes it.
func (a *Authenticator) UpdatePassword(ctx context.Context, email, password string) error {
	if a.opts.execCtx != bagel.ContextServer {
		return fmt.Errorf("update password: %w", bagel.ErrServerContextOnly)
	}

	email, err := validateCredentials(email, password)
	if err != nil {
		return err
	}

	_, err = a.postJSON(ctx, "update password", constants.PathUpdatePassword, http.StatusOK, map[string]string{
		"email":    email,
		"password": password,
	})

	return err
}

// UserID returns the stored user id, or "" when nobody is logged in.
func (a *Authenticator) UserID(ctx context.Context) (string, error) {
	return a.cache.UserID(ctx)
}

// IsSessionActive reports whether a user session is active.
func (a *Authenticator) IsSessionActive(ctx context.Context) (bool, error) {
	return a.cache.IsSessionActive(ctx)
}

func (a *Authenticator) storeSession(ctx context.Context, resp *TokenResponse) error {
	if resp.AccessToken != "" {
		err := a.cache.StoreTokens(ctx, resp, a.opts.now())
		if err != nil {
			return err
		}
	}

	if resp.UserID != "" {
		return a.cache.StoreUser(ctx, resp.UserID)
	}

	return nil
}

func (a *Authenticator) postJSON(ctx context.Context, op, path string, wantStatus int, body interface{}) (*bagel.Response, error) {
	req, err := bagelhttp.NewJSONRequest(http.MethodPost, path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Credential exchanges are authorized by the project, not the session.
	req.APITokenOnly = true

	resp, err := a.requests.Do(ctx, req)
	if err != nil {
		return nil, upstreamAuthError(op, err)
	}

	if resp.StatusCode != wantStatus {
		return nil, unexpectedStatus(op, http.MethodPost, path, resp)
	}

	return resp, nil
}

func validateCredentials(email, password string) (string, error) {
	email = normalizeEmail(email)

	err := validation.Validate(email, validation.Required, is.EmailFormat)
	if err != nil {
		return "", fmt.Errorf("%w: email %w", bagel.ErrInvalidCredentials, err)
	}

	err = validation.Validate(password, validation.Required)
	if err != nil {
		return "", fmt.Errorf("%w: password %w", bagel.ErrInvalidCredentials, err)
	}

	return email, nil
}

// normalizeEmail performs case-insensitive canonicalization.
func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// upstreamAuthError reclassifies a transport or HTTP failure from the auth
// service, keeping the response payload. A forced logout stays one.
func upstreamAuthError(op string, err error) error {
	if errors.Is(err, bagel.ErrSessionExpired) {
		return fmt.Errorf("%s: %w", op, err)
	}

	httpErr := &bagel.HTTPError{}
	if errors.As(err, &httpErr) {
		return httpErr.WithKind(bagel.KindUpstreamAuth, op)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func unexpectedStatus(op, method, path string, resp *bagel.Response) error {
	return &bagel.HTTPError{
		Kind:       bagel.KindUpstreamAuth,
		Op:         op,
		Method:     method,
		URL:        path,
		StatusCode: resp.StatusCode,
		Header:     resp.Headers,
		Body:       resp.Body,
	}
}

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}
