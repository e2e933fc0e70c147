package bagel

import (
	"context"
	"net/url"
	"time"
)

// User is the profile of the logged-in user.
type User struct {
	UserID       string   `json:"userID"                 yaml:"user_id"`
	Email        string   `json:"email,omitempty"        yaml:"email,omitempty"`
	CreatedDate  string   `json:"createdDate,omitempty"  yaml:"created_date,omitempty"`
	LastLoggedIn string   `json:"lastLoggedIn,omitempty" yaml:"last_logged_in,omitempty"`
	UserGroups   []string `json:"userGroups,omitempty"   yaml:"user_groups,omitempty"`
}

// Event is one server-sent event from a live stream. Name defaults to
// "message".
type Event struct {
	ID    string
	Name  string
	Data  string
	Retry time.Duration
}

// StreamState is the lifecycle of a live subscription.
type StreamState int

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamOpen
	StreamReconnecting
)

func (s StreamState) String() string {
	switch s {
	case StreamDisconnected:
		return "disconnected"
	case StreamConnecting:
		return "connecting"
	case StreamOpen:
		return "open"
	case StreamReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// UsersClient manages the user session.
type UsersClient interface {
	// CreateAccount registers a user and returns its id.
	CreateAccount(ctx context.Context, email, password string) (string, error)
	// ValidateCredentials logs a user in and returns its id.
	ValidateCredentials(ctx context.Context, email, password string) (string, error)
	// RequestOneTimePasscode sends an OTP to an email address or phone number
	// and returns the nonce the verification is bound to.
	RequestOneTimePasscode(ctx context.Context, emailOrPhone string) (string, error)
	// VerifyOneTimePasscode logs a user in with the OTP it received.
	VerifyOneTimePasscode(ctx context.Context, code string) (string, error)
	// Refresh exchanges the refresh token for a new pair. A rejected refresh
	// logs the user out and returns ErrSessionExpired.
	Refresh(ctx context.Context) (string, error)
	// Logout clears the local session. It never contacts the service.
	Logout(ctx context.Context) error
	GetCurrentUser(ctx context.Context) (*User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	// UpdatePassword is only available in ContextServer.
	UpdatePassword(ctx context.Context, email, password string) error
	UserID(ctx context.Context) (string, error)
	IsSessionActive(ctx context.Context) (bool, error)
}

// Subscription is a live stream kept open across server handoffs and token
// rotation until it is closed.
type Subscription interface {
	RequestID() string
	State() StreamState
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Client is the main BagelDB client.
type Client interface {
	Users() UsersClient

	// Do sends a content API request with the session or API token.
	Do(ctx context.Context, req *Request) (*Response, error)
	Get(ctx context.Context, path string, query url.Values) (*Response, error)

	// Listen subscribes to live changes of query. onMessage is required.
	Listen(ctx context.Context, query LiveQuery, onMessage func(Event), onError func(error)) (Subscription, error)

	// Token returns the bearer token requests are currently sent with.
	Token(ctx context.Context) (string, error)
}
