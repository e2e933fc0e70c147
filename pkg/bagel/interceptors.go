package bagel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Request represents an HTTP request that can be intercepted. Path is
// relative to the endpoint the request is sent to.
type Request struct {
	Method   string
	Path     string
	Query    url.Values
	Headers  http.Header
	Body     []byte
	Metadata map[string]interface{}

	// Retried marks a request that is being replayed after a token refresh.
	// A retried request is never replayed again.
	Retried bool

	// APITokenOnly authorizes the request with the static API token even
	// while a user session is active. Such a request is never replayed after
	// a 401, since the session token played no part in it.
	APITokenOnly bool
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	out := &Request{
		Method:       r.Method,
		Path:         r.Path,
		Retried:      r.Retried,
		APITokenOnly: r.APITokenOnly,
	}

	if r.Query != nil {
		out.Query = make(url.Values, len(r.Query))
		for key, values := range r.Query {
			out.Query[key] = append([]string(nil), values...)
		}
	}

	if r.Headers != nil {
		out.Headers = r.Headers.Clone()
	}

	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}

	if r.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(r.Metadata))
		for key, value := range r.Metadata {
			out.Metadata[key] = value
		}
	}

	return out
}

// Response represents an HTTP response that can be intercepted.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Error      error
}

// RequestInterceptor is called before a request is sent.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor is called after a response is received.
type ResponseInterceptor func(ctx context.Context, req *Request, resp *Response) error

// TokenProvider returns the bearer token for the next request. An empty token
// means the request goes out without an Authorization header.
type TokenProvider func(ctx context.Context) (string, error)

// InterceptorChain manages a chain of interceptors.
type InterceptorChain struct {
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
}

// NewInterceptorChain creates a new interceptor chain.
func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{
		requestInterceptors:  make([]RequestInterceptor, 0),
		responseInterceptors: make([]ResponseInterceptor, 0),
	}
}

// AddRequestInterceptor adds a request interceptor to the chain.
func (c *InterceptorChain) AddRequestInterceptor(interceptor RequestInterceptor) {
	c.requestInterceptors = append(c.requestInterceptors, interceptor)
}

// AddResponseInterceptor adds a response interceptor to the chain.
func (c *InterceptorChain) AddResponseInterceptor(interceptor ResponseInterceptor) {
	c.responseInterceptors = append(c.responseInterceptors, interceptor)
}

// ExecuteRequestInterceptors runs all request interceptors.
func (c *InterceptorChain) ExecuteRequestInterceptors(ctx context.Context, req *Request) error {
	for _, interceptor := range c.requestInterceptors {
		err := interceptor(ctx, req)
		if err != nil {
			return fmt.Errorf("request interceptor failed: %w", err)
		}
	}

	return nil
}

// ExecuteResponseInterceptors runs all response interceptors.
func (c *InterceptorChain) ExecuteResponseInterceptors(ctx context.Context, req *Request, resp *Response) error {
	for _, interceptor := range c.responseInterceptors {
		err := interceptor(ctx, req, resp)
		if err != nil {
			return fmt.Errorf("response interceptor failed: %w", err)
		}
	}

	return nil
}

// Common Interceptors

// VersionInterceptor sets the Accept-Version header.
func VersionInterceptor(version string) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		ensureHeaders(req)
		req.Headers.Set("Accept-Version", version)

		return nil
	}
}

// AuthenticationInterceptor adds authentication headers.
func AuthenticationInterceptor(tokenProvider TokenProvider) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		token, err := tokenProvider(ctx)
		if err != nil {
			return fmt.Errorf("failed to get authentication token: %w", err)
		}

		ensureHeaders(req)

		if token == "" {
			req.Headers.Del("Authorization")

			return nil
		}

		req.Headers.Set("Authorization", "Bearer "+token)

		return nil
	}
}

// HeaderInterceptor adds custom headers to requests. Register it last so the
// caller's values win.
func HeaderInterceptor(headers map[string]string) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		ensureHeaders(req)

		for key, value := range headers {
			req.Headers.Set(key, value)
		}

		return nil
	}
}

// RequestIDInterceptor tags each request with a random X-Request-ID unless
// the caller already set one.
func RequestIDInterceptor() RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		ensureHeaders(req)

		if req.Headers.Get("X-Request-ID") == "" {
			req.Headers.Set("X-Request-ID", uuid.NewString())
		}

		return nil
	}
}

// LoggingInterceptor logs requests.
func LoggingInterceptor(logger Logger) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		if req.Metadata == nil {
			req.Metadata = make(map[string]interface{})
		}

		req.Metadata["log_start_time"] = time.Now()

		logger.Debug("API Request", map[string]interface{}{
			"method":  req.Method,
			"path":    req.Path,
			"retried": req.Retried,
		})

		return nil
	}
}

// LoggingResponseInterceptor logs responses.
func LoggingResponseInterceptor(logger Logger) ResponseInterceptor {
	return func(ctx context.Context, req *Request, resp *Response) error {
		fields := map[string]interface{}{
			"method":      req.Method,
			"path":        req.Path,
			"status_code": resp.StatusCode,
		}

		if startTime, ok := req.Metadata["log_start_time"].(time.Time); ok {
			fields["duration"] = time.Since(startTime).String()
		}

		if resp.Error != nil {
			fields["error"] = resp.Error.Error()
			logger.Error("API Response Error", fields)
		} else {
			logger.Debug("API Response", fields)
		}

		return nil
	}
}

func ensureHeaders(req *Request) {
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
}
