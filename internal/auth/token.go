package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bageldb/libraries/internal/constants"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Token is the access/refresh/expiry triple of a session.
type Token struct {
	AccessToken  string    `json:"access_token"            yaml:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"    yaml:"token_type,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"    yaml:"expires_in,omitempty"`
	ExpiresAt    time.Time `json:"-"                       yaml:"expires_at,omitempty"`
}

// TokenResponse is the auth service's answer to a login, OTP verification
// or refresh.
type TokenResponse struct {
	Token `yaml:",inline"`

	UserID string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
}

// Valid reports whether the token can be used right now.
func (t *Token) Valid() bool {
	return t.ValidAt(time.Now())
}

// ValidAt reports whether the token can be used at now. A token without an
// expiry, or whose expiry is exactly now, is not valid.
func (t *Token) ValidAt(now time.Time) bool {
	if t == nil || t.AccessToken == "" || t.ExpiresAt.IsZero() {
		return false
	}

	return now.Before(t.ExpiresAt)
}

// OAuth2 converts the token for use with golang.org/x/oauth2.
func (t *Token) OAuth2() *oauth2.Token {
	if t == nil {
		return nil
	}

	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       t.ExpiresAt,
	}
}

// ExpiryFor computes the absolute expiry of a freshly issued token. When the
// response carries no expires_in, the access token's JWT exp claim is used;
// if that is unavailable too, the token is treated as already expired.
func ExpiryFor(issuedAt time.Time, expiresIn int64, accessToken string) time.Time {
	if expiresIn > 0 {
		return issuedAt.Add(time.Duration(expiresIn) * time.Second)
	}

	exp, err := JWTExpiry(accessToken)
	if err != nil {
		return issuedAt
	}

	return exp
}

// JWTExpiry reads the exp claim of a JWT without verifying its signature.
// The SDK never trusts the claim for authorization, only to schedule a refresh.
func JWTExpiry(raw string) (time.Time, error) {
	if strings.Count(raw, ".") != 2 {
		return time.Time{}, constants.ErrInvalidJWTFormat
	}

	claims := jwt.MapClaims{}

	_, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", constants.ErrInvalidJWTFormat, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, constants.ErrNoExpirationClaim
	}

	return exp.Time, nil
}

// FormatExpiry encodes t as epoch milliseconds, the stored representation.
func FormatExpiry(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseExpiry decodes a stored expiry.
func ParseExpiry(raw string) (time.Time, error) {
	millis, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || millis <= 0 {
		return time.Time{}, fmt.Errorf("%w: %q", constants.ErrInvalidExpiry, raw)
	}

	return time.UnixMilli(millis), nil
}
