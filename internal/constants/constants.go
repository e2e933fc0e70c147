package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration and credential directories.
	ConfigDirPerm = 0700

	// ConfigFilePerm is the permission for configuration and credential files.
	ConfigFilePerm = 0600
)

// Service endpoints.
const (
	// DefaultAuthEndpoint is the public Bagel auth service.
	DefaultAuthEndpoint = "https://auth.bageldb.com/api/public"

	// DefaultContentEndpoint is the public content API.
	DefaultContentEndpoint = "https://api.bagelstudio.co/api/public"

	// DefaultLiveEndpoint serves the server-sent event streams.
	DefaultLiveEndpoint = "https://live.bageldb.com/api/public"
)

// Auth service paths, relative to the auth endpoint.
const (
	PathUser           = "/user"
	PathUserVerify     = "/user/verify"
	PathUserOTP        = "/user/otp"
	PathUserOTPVerify  = "/user/otp/verify/"
	PathUserToken      = "/user/token"
	PathResetPassword  = "/user/resetpassword"
	PathUpdatePassword = "/user/updatePassword"
)

// RefreshClientID is the client_id sent with the refresh_token grant.
const RefreshClientID = "project-client"

// Credential store keys.
const (
	KeyUser         = "bagel-user"
	KeyAccess       = "bagel-access"
	KeyRefresh      = "bagel-refresh"
	KeyExpires      = "bagel-expires"
	KeyNonce        = "bagel-nonce"
	KeyNonceExpires = "bagel-nonce-expires"
)

// SessionKeys lists every key a session may write.
var SessionKeys = []string{KeyUser, KeyAccess, KeyRefresh, KeyExpires, KeyNonce, KeyNonceExpires}

// HTTP headers.
const (
	HeaderAuthorization = "Authorization"
	HeaderAcceptVersion = "Accept-Version"
	HeaderRequestID     = "X-Request-ID"
	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"
	HeaderUserAgent     = "User-Agent"

	// APIVersion is sent in the Accept-Version header of every request.
	APIVersion = "v1"

	// BearerPrefix precedes the token in the Authorization header.
	BearerPrefix = "Bearer "

	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
	ContentTypeSSE  = "text/event-stream"

	// DefaultUserAgent is sent when the caller does not configure one.
	DefaultUserAgent = "bagel-go"
)

// Live stream query parameters and event names.
const (
	ParamAuthorization = "authorization"
	ParamRequestID     = "requestID"
	ParamNestedID      = "nestedID"
	ParamItemID        = "itemID"

	EventStart   = "start"
	EventStop    = "stop"
	EventMessage = "message"
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ShortHTTPTimeout is used for quick operations.
	ShortHTTPTimeout = 10 * time.Second
)

// Retry limits.
const (
	// DefaultRetryMax is the default maximum number of transport retries.
	DefaultRetryMax = 3

	// DefaultRetryWaitMin is the minimum wait time between retries.
	DefaultRetryWaitMin = 1 * time.Second

	// DefaultRetryWaitMax is the maximum wait time between retries.
	DefaultRetryWaitMax = 10 * time.Second

	// StreamRedialAttempts bounds redials after a stream drops.
	StreamRedialAttempts = 5

	// StreamRedialInitialInterval is the first backoff interval between redials.
	StreamRedialInitialInterval = 500 * time.Millisecond

	// StreamRedialMaxInterval caps the backoff interval between redials.
	StreamRedialMaxInterval = 15 * time.Second
)

// Buffer sizes.
const (
	// EventBufferSize is the channel buffer for parsed stream events.
	EventBufferSize = 16

	// MaxErrorBodySize caps how much of an error body is kept for diagnostics.
	MaxErrorBodySize = 64 * 1024
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// UI and display constants.
const (
	// NotAvailable is used when information is not available.
	NotAvailable = "N/A"

	// MaskedSecret is used to hide sensitive information.
	MaskedSecret = "********"
)

// CLI defaults.
const (
	// ConfigDirName is the directory under $HOME holding CLI state.
	ConfigDirName = ".bagel"

	// CredentialsFileName holds the CLI's session inside ConfigDirName.
	CredentialsFileName = "credentials.yml"

	// DefaultRelayPrefix is the NATS subject prefix live events are relayed on.
	DefaultRelayPrefix = "bagel.live"

	// RedisSessionKey is the hash a RedisStore keeps the session in; a
	// namespace is appended after a colon.
	RedisSessionKey = "bagel:session"
)
