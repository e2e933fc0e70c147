package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bageldb/libraries/internal/constants"
	"github.com/bageldb/libraries/pkg/bagel"
	"github.com/hashicorp/go-retryablehttp"
)

// Doer is the transport capability the session core calls through.
type Doer interface {
	Do(ctx context.Context, req *bagel.Request) (*bagel.Response, error)
}

// Client sends requests to one base URL with retries on transient failures.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	logger     bagel.Logger
	userAgent  string
	debug      bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for debug output and retry diagnostics.
func WithLogger(logger bagel.Logger) Option {
	return func(c *Client) {
		c.logger = logger
		c.httpClient.Logger = &leveledLogger{logger: logger}
	}
}

// WithDebug logs every request and response.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithRetryConfig sets retry parameters. A negative retryMax disables retries.
func WithRetryConfig(retryMax int, retryWaitMin, retryWaitMax time.Duration) Option {
	return func(c *Client) {
		if retryMax < 0 {
			retryMax = 0
		}

		c.httpClient.RetryMax = retryMax
		c.httpClient.RetryWaitMin = retryWaitMin
		c.httpClient.RetryWaitMax = retryWaitMax
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient = httpClient
	}
}

// NewClient creates a new HTTP client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = constants.DefaultRetryMax
	retryClient.RetryWaitMin = constants.DefaultRetryWaitMin
	retryClient.RetryWaitMax = constants.DefaultRetryWaitMax
	retryClient.HTTPClient.Timeout = constants.DefaultHTTPTimeout
	retryClient.Logger = nil
	// Hand the last response back instead of a "giving up" error so callers
	// can inspect the status and body.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: retryClient,
		logger:     bagel.NopLogger{},
		userAgent:  constants.DefaultUserAgent,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// BaseURL returns the base URL requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends req. A non-2xx status returns both the response and a
// *bagel.HTTPError; a network failure wraps bagel.ErrTransport.
func (c *Client) Do(ctx context.Context, req *bagel.Request) (*bagel.Response, error) {
	fullURL := c.resolve(req)

	var body interface{}
	if req.Body != nil {
		body = req.Body
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set(constants.HeaderAccept, constants.ContentTypeJSON)
	httpReq.Header.Set(constants.HeaderUserAgent, c.userAgent)

	if req.Body != nil && req.Headers.Get(constants.HeaderContentType) == "" {
		httpReq.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	}

	for key, values := range req.Headers {
		httpReq.Header.Del(key)

		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	if c.debug {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method": req.Method,
			"url":    fullURL,
		})
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", bagel.ErrTransport, req.Method, req.Path, err)
	}

	defer func() {
		_ = httpResp.Body.Close()
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %w", bagel.ErrTransport, err)
	}

	resp := &bagel.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       respBody,
	}

	if c.debug {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"method":      req.Method,
			"url":         fullURL,
			"status_code": httpResp.StatusCode,
		})
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		diag := respBody
		if len(diag) > constants.MaxErrorBodySize {
			diag = diag[:constants.MaxErrorBodySize]
		}

		resp.Error = &bagel.HTTPError{
			Kind:       bagel.KindUpstreamContent,
			Method:     req.Method,
			URL:        req.Path,
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       diag,
		}

		return resp, resp.Error
	}

	return resp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*bagel.Response, error) {
	return c.Do(ctx, &bagel.Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*bagel.Response, error) {
	req, err := NewJSONRequest(http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	return c.Do(ctx, req)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*bagel.Response, error) {
	req, err := NewJSONRequest(http.MethodPut, path, body)
	if err != nil {
		return nil, err
	}

	return c.Do(ctx, req)
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*bagel.Response, error) {
	req, err := NewJSONRequest(http.MethodPatch, path, body)
	if err != nil {
		return nil, err
	}

	return c.Do(ctx, req)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*bagel.Response, error) {
	return c.Do(ctx, &bagel.Request{Method: http.MethodDelete, Path: path})
}

// NewJSONRequest builds a request whose body is body encoded as JSON. A nil
// body sends no payload.
func NewJSONRequest(method, path string, body interface{}) (*bagel.Request, error) {
	req := &bagel.Request{Method: method, Path: path}

	if body == nil {
		return req, nil
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	req.Body = encoded
	req.Headers = http.Header{constants.HeaderContentType: []string{constants.ContentTypeJSON}}

	return req, nil
}

// NewFormRequest builds a form-encoded POST request.
func NewFormRequest(path string, form url.Values) *bagel.Request {
	return &bagel.Request{
		Method:  http.MethodPost,
		Path:    path,
		Body:    []byte(form.Encode()),
		Headers: http.Header{constants.HeaderContentType: []string{constants.ContentTypeForm}},
	}
}

// DecodeJSON unmarshals a response body into out.
func DecodeJSON(resp *bagel.Response, out interface{}) error {
	if resp == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return errEmptyBody
	}

	err := json.Unmarshal(resp.Body, out)
	if err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	return nil
}

var errEmptyBody = errors.New("empty response body")

func (c *Client) resolve(req *bagel.Request) string {
	fullURL := req.Path
	if !strings.HasPrefix(fullURL, "http://") && !strings.HasPrefix(fullURL, "https://") {
		fullURL = c.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	}

	if len(req.Query) > 0 {
		separator := "?"
		if strings.Contains(fullURL, "?") {
			separator = "&"
		}

		fullURL += separator + req.Query.Encode()
	}

	return fullURL
}

// leveledLogger adapts bagel.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger bagel.Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, pairs(keysAndValues))
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, pairs(keysAndValues))
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, pairs(keysAndValues))
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, pairs(keysAndValues))
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}

		fields[key] = keysAndValues[i+1]
	}

	return fields
}
