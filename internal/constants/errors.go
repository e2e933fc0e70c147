package constants

import "errors"

// Configuration errors.
var (
	ErrAPITokenRequired   = errors.New("API token is required")
	ErrConfigRequired     = errors.New("config is required")
	ErrStoreRequired      = errors.New("credential store is required")
	ErrTransportRequired  = errors.New("transport is required")
	ErrRefresherRequired  = errors.New("refresher is required")
	ErrNoConfiguredAPIKey = errors.New("no API token configured, set BAGEL_API_TOKEN or use --api-token")
)

// Stream errors.
var (
	ErrMissingMessageHandler = errors.New("onMessage callback must be defined")
	ErrCollectionRequired    = errors.New("collection ID is required")
	ErrStreamClosed          = errors.New("stream closed")
	ErrUnexpectedContentType = errors.New("unexpected content type for event stream")
	ErrEmptyToken            = errors.New("refresh returned an empty token")
)

// Token parsing errors.
var (
	ErrInvalidJWTFormat  = errors.New("invalid JWT format")
	ErrNoExpirationClaim = errors.New("no expiration claim found")
	ErrInvalidExpiry     = errors.New("invalid stored expiry")
)

// CLI errors.
var (
	ErrUnknownContext    = errors.New("unknown execution context, use browser, react-native or server")
	ErrEmailRequired     = errors.New("email is required")
	ErrNATSURLRequired   = errors.New("--nats-url is required to relay events")
	ErrInvalidQueryParam = errors.New("query parameters must look like key=value")
)
