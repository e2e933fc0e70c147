package bagel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so callers can tell "not logged in" apart from
// "the service is unavailable".
type Kind int

const (
	KindUnknown Kind = iota
	KindInputValidation
	KindNoActiveSession
	KindExpiredNonce
	KindSessionExpired
	KindUpstreamAuth
	KindUpstreamContent
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindInputValidation:
		return "input_validation"
	case KindNoActiveSession:
		return "no_active_session"
	case KindExpiredNonce:
		return "expired_nonce"
	case KindSessionExpired:
		return "session_expired"
	case KindUpstreamAuth:
		return "upstream_auth"
	case KindUpstreamContent:
		return "upstream_content"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Static errors that can be wrapped with context.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoActiveSession    = errors.New("no Bagel user is logged in")
	ErrNonceNotRequested  = errors.New("request an OTP first")
	ErrExpiredNonce       = errors.New("OTP request has expired, try again")
	ErrSessionExpired     = errors.New("session expired, user logged out")
	ErrServerContextOnly  = errors.New("operation is only available in a server context")
	ErrTransport          = errors.New("transport failure")
)

// HTTPError is a non-2xx response from the auth service or the content API.
// The raw body is kept for diagnostics.
type HTTPError struct {
	Kind       Kind        `json:"kind"`
	Op         string      `json:"op,omitempty"`
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"-"`
	Body       []byte      `json:"-"`
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	msg := e.Message()

	prefix := e.Op
	if prefix == "" {
		prefix = e.Method + " " + e.URL
	}

	if msg == "" {
		return fmt.Sprintf("%s: status %d", prefix, e.StatusCode)
	}

	return fmt.Sprintf("%s: status %d: %s", prefix, e.StatusCode, msg)
}

// Message extracts a human readable message from a JSON error body, falling
// back to the raw body text.
func (e *HTTPError) Message() string {
	if len(e.Body) == 0 {
		return ""
	}

	var payload struct {
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}

	if json.Unmarshal(e.Body, &payload) == nil {
		switch {
		case payload.ErrorDescription != "" && payload.Error != "":
			return payload.Error + ": " + payload.ErrorDescription
		case payload.Message != "":
			return payload.Message
		case payload.Error != "":
			return payload.Error
		}
	}

	return string(e.Body)
}

// WithKind returns a copy of the error reclassified under kind and op.
func (e *HTTPError) WithKind(kind Kind, op string) *HTTPError {
	out := *e
	out.Kind = kind
	out.Op = op

	return &out
}

// KindOf classifies err. Wrapped errors are unwrapped.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	// A forced logout wraps the refresh failure that caused it.
	if errors.Is(err, ErrSessionExpired) {
		return KindSessionExpired
	}

	httpErr := &HTTPError{}
	if errors.As(err, &httpErr) {
		return httpErr.Kind
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrServerContextOnly):
		return KindInputValidation
	case errors.Is(err, ErrNoActiveSession):
		return KindNoActiveSession
	case errors.Is(err, ErrExpiredNonce), errors.Is(err, ErrNonceNotRequested):
		return KindExpiredNonce
	case errors.Is(err, ErrTransport):
		return KindTransport
	default:
		return KindUnknown
	}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	httpErr := &HTTPError{}
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}

	return 0
}

// IsUnauthorized checks if the error is a 401 response.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// IsNotFound checks if the error is a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsNoActiveSession checks if err means no user is logged in.
func IsNoActiveSession(err error) bool {
	return KindOf(err) == KindNoActiveSession
}

// IsSessionExpired checks if err means the session could not be refreshed
// and the user was logged out.
func IsSessionExpired(err error) bool {
	return KindOf(err) == KindSessionExpired
}
