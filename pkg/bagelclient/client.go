package bagelclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bageldb/libraries/internal/auth"
	"github.com/bageldb/libraries/internal/constants"
	bagelhttp "github.com/bageldb/libraries/internal/http"
	"github.com/bageldb/libraries/internal/stream"
	"github.com/bageldb/libraries/pkg/bagel"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/oauth2"
)

var _ bagel.Client = (*Client)(nil)

// Client implements bagel.Client.
type Client struct {
	config        *bagel.Config
	logger        bagel.Logger
	authenticator *auth.Authenticator
	pipeline      *auth.Pipeline
	reconnector   *stream.Reconnector
}

// New creates a BagelDB client. Unset endpoints, timeouts and retry limits
// take their defaults, a nil Store keeps the session in memory.
func New(ctx context.Context, config *bagel.Config) (*Client, error) {
	if config == nil {
		return nil, constants.ErrConfigRequired
	}

	if config.APIToken == "" {
		return nil, constants.ErrAPITokenRequired
	}

	cfg := withDefaults(config)

	err := validation.ValidateStruct(cfg,
		validation.Field(&cfg.ContentEndpoint, validation.Required, is.URL),
		validation.Field(&cfg.AuthEndpoint, validation.Required, is.URL),
		validation.Field(&cfg.LiveEndpoint, validation.Required, is.URL),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	authTransport := newTransport(cfg, cfg.AuthEndpoint)
	contentTransport := newTransport(cfg, cfg.ContentEndpoint)

	opts := []auth.Option{
		auth.WithExecutionContext(cfg.Context),
		auth.WithLogger(cfg.Logger),
		auth.WithMetrics(cfg.Metrics),
		auth.WithHeaders(cfg.Headers),
		auth.WithDebug(cfg.Debug),
	}

	authenticator, err := auth.NewAuthenticator(authTransport, cfg.Store, cfg.APIToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	pipeline, err := auth.NewPipeline(contentTransport, authenticator, cfg.APIToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create request pipeline: %w", err)
	}

	reconnector := stream.NewReconnector(cfg.LiveEndpoint, pipeline,
		stream.WithDialer(stream.NewSSEDialer(nil, cfg.UserAgent)),
		stream.WithLogger(cfg.Logger),
		stream.WithMetrics(cfg.Metrics),
	)

	client := &Client{
		config:        cfg,
		logger:        cfg.Logger,
		authenticator: authenticator,
		pipeline:      pipeline,
		reconnector:   reconnector,
	}

	active, err := authenticator.IsSessionActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading stored session: %w", err)
	}

	client.logger.Debug("Client created", map[string]interface{}{
		"context":        cfg.Context.String(),
		"session_active": active,
	})

	return client, nil
}

// NewWithToken creates a browser-context client with default endpoints.
func NewWithToken(ctx context.Context, apiToken string) (*Client, error) {
	return New(ctx, &bagel.Config{APIToken: apiToken})
}

// NewServer creates a server-context client. Stored users never replace the
// API token in this context.
func NewServer(ctx context.Context, apiToken string, store bagel.CredentialStore) (*Client, error) {
	return New(ctx, &bagel.Config{
		APIToken: apiToken,
		Context:  bagel.ContextServer,
		Store:    store,
	})
}

// withDefaults returns a copy of config with every unset field defaulted.
func withDefaults(config *bagel.Config) *bagel.Config {
	cfg := *config

	cfg.ContentEndpoint = endpointOrDefault(cfg.ContentEndpoint, constants.DefaultContentEndpoint)
	cfg.AuthEndpoint = endpointOrDefault(cfg.AuthEndpoint, constants.DefaultAuthEndpoint)
	cfg.LiveEndpoint = endpointOrDefault(cfg.LiveEndpoint, constants.DefaultLiveEndpoint)

	if cfg.Store == nil {
		cfg.Store = auth.NewMemoryStore()
	}

	if cfg.Logger == nil {
		cfg.Logger = bagel.NopLogger{}
	}

	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = constants.DefaultHTTPTimeout
	}

	switch {
	case cfg.RetryMax == 0:
		cfg.RetryMax = constants.DefaultRetryMax
	case cfg.RetryMax < 0:
		cfg.RetryMax = 0
	}

	if cfg.RetryWaitMin == 0 {
		cfg.RetryWaitMin = constants.DefaultRetryWaitMin
	}

	if cfg.RetryWaitMax == 0 {
		cfg.RetryWaitMax = constants.DefaultRetryWaitMax
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = constants.DefaultUserAgent
	}

	return &cfg
}

func endpointOrDefault(endpoint, fallback string) string {
	endpoint = strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return fallback
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}

	return endpoint
}

func newTransport(cfg *bagel.Config, baseURL string) *bagelhttp.Client {
	return bagelhttp.NewClient(baseURL,
		bagelhttp.WithLogger(cfg.Logger),
		bagelhttp.WithDebug(cfg.Debug),
		bagelhttp.WithUserAgent(cfg.UserAgent),
		bagelhttp.WithTimeout(cfg.HTTPTimeout),
		bagelhttp.WithRetryConfig(cfg.RetryMax, cfg.RetryWaitMin, cfg.RetryWaitMax),
	)
}

// Users returns the session operations.
func (c *Client) Users() bagel.UsersClient {
	return c.authenticator
}

// Do sends req to the content API.
func (c *Client) Do(ctx context.Context, req *bagel.Request) (*bagel.Response, error) {
	return c.pipeline.Do(ctx, req)
}

// Get performs a GET request on the content API.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*bagel.Response, error) {
	return c.pipeline.Get(ctx, path, query)
}

// Listen subscribes to live changes of query.
func (c *Client) Listen(ctx context.Context, query bagel.LiveQuery, onMessage func(bagel.Event), onError func(error)) (bagel.Subscription, error) {
	handle, err := c.reconnector.Listen(ctx, query, onMessage, onError)
	if err != nil {
		return nil, err
	}

	return handle, nil
}

// Token returns the bearer token requests are currently sent with.
func (c *Client) Token(ctx context.Context) (string, error) {
	return c.pipeline.Token(ctx)
}

// TokenSource exposes the session as an oauth2.TokenSource, for HTTP code
// that does not go through the SDK (oauth2.NewClient, for one). Tokens are
// refreshed through the same single flight as SDK requests. It fails with
// bagel.ErrNoActiveSession while nobody is logged in.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return c.authenticator.Cache().TokenSource(ctx)
}

// Cache returns the session token cache.
func (c *Client) Cache() *auth.TokenCache {
	return c.authenticator.Cache()
}

// Config returns the effective configuration, defaults applied.
func (c *Client) Config() *bagel.Config {
	return c.config
}
