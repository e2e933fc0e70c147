package bagel

import (
	"context"
	"time"
)

// ExecutionContext tells the SDK what kind of host it runs in. It replaces
// probing for browser or server globals at runtime.
type ExecutionContext int

const (
	// ContextBrowser is a single-user, interactive host.
	ContextBrowser ExecutionContext = iota
	// ContextReactNative is a single-user mobile host.
	ContextReactNative
	// ContextServer is a multi-user process. A stored user never makes a
	// session active here.
	ContextServer
)

// String returns the lower-case name of the context.
func (c ExecutionContext) String() string {
	switch c {
	case ContextBrowser:
		return "browser"
	case ContextReactNative:
		return "react-native"
	case ContextServer:
		return "server"
	default:
		return "unknown"
	}
}

// UserCapable reports whether a persisted user may be treated as an active session.
func (c ExecutionContext) UserCapable() bool {
	return c == ContextBrowser || c == ContextReactNative
}

// ParseExecutionContext maps a name produced by String back to its value.
func ParseExecutionContext(name string) (ExecutionContext, bool) {
	switch name {
	case "browser", "":
		return ContextBrowser, true
	case "react-native", "reactnative":
		return ContextReactNative, true
	case "server":
		return ContextServer, true
	default:
		return ContextBrowser, false
	}
}

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// CredentialStore is the key/value persistence the session lives in. Get
// reports whether the key was present. Clear empties everything the store
// holds; logging out removes only the session keys, so a store may share its
// medium with other data.
type CredentialStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Config represents client configuration for building a bagelclient.Client.
//
// # Authentication precedence
//
// Every request carries exactly one bearer token:
//  1. If a user session is active (see Context), the session access token is
//     used and refreshed on demand.
//  2. Otherwise APIToken is sent as a static Bearer token.
//
// A session is only ever active in ContextBrowser or ContextReactNative. In
// ContextServer the SDK can still log users in and refresh their tokens, but
// stored users never replace the static token, because a server process is
// not single-user.
//
// # Storage
//
// Store holds the session. When nil an in-memory store is used, which does
// not survive process restarts.
type Config struct {
	// APIToken: the project's static API token. Required.
	APIToken string

	// Context: host kind. Defaults to ContextBrowser.
	Context ExecutionContext

	// Store: where the session is persisted. Defaults to an in-memory store.
	Store CredentialStore

	// ContentEndpoint: base URL of the content API.
	ContentEndpoint string
	// AuthEndpoint: base URL of the auth service.
	AuthEndpoint string
	// LiveEndpoint: base URL of the streaming endpoint.
	LiveEndpoint string

	// Headers: custom request headers merged last into every content and auth request;
	// they override the SDK's own headers.
	Headers map[string]string

	// HTTPTimeout: per-attempt transport timeout.
	HTTPTimeout time.Duration
	// RetryMax: maximum number of transport retries on 5xx/429 and connection
	// errors. Zero uses the default; negative disables retries.
	RetryMax int
	// RetryWaitMin: minimum backoff between retries.
	RetryWaitMin time.Duration
	// RetryWaitMax: maximum backoff between retries.
	RetryWaitMax time.Duration

	// Debug: logs every request and response at debug level.
	Debug bool
	// Logger: optional structured logger.
	Logger Logger
	// Metrics: optional prometheus collectors.
	Metrics *Metrics
	// UserAgent: overrides the default User-Agent header.
	UserAgent string
}
