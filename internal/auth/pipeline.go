package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/bageldb/libraries/internal/constants"
	bagelhttp "github.com/bageldb/libraries/internal/http"
	"github.com/bageldb/libraries/pkg/bagel"
)

// Pipeline decorates every request with the version header, the
// right bearer token and the caller's custom headers, and recovers once from
// a 401 by refreshing the session.
type Pipeline struct {
	transport bagelhttp.Doer
	auth      *Authenticator
	apiToken  string
	opts      *options
	chain     *bagel.InterceptorChain
}

// NewPipeline creates a pipeline that sends through transport. apiToken is
// the static project token used whenever no user session is active.
func NewPipeline(transport bagelhttp.Doer, authenticator *Authenticator, apiToken string, opts ...Option) (*Pipeline, error) {
	if transport == nil {
		return nil, constants.ErrTransportRequired
	}

	if apiToken == "" {
		return nil, constants.ErrAPITokenRequired
	}

	if authenticator == nil {
		return nil, constants.ErrRefresherRequired
	}

	p := &Pipeline{
		transport: transport,
		auth:      authenticator,
		apiToken:  apiToken,
		opts:      newOptions(opts),
		chain:     bagel.NewInterceptorChain(),
	}

	p.chain.AddRequestInterceptor(bagel.VersionInterceptor(constants.APIVersion))
	p.chain.AddRequestInterceptor(p.authorize)
	p.chain.AddRequestInterceptor(bagel.RequestIDInterceptor())

	if p.opts.metrics != nil {
		p.chain.AddRequestInterceptor(bagel.MetricsRequestInterceptor(p.opts.metrics))
		p.chain.AddResponseInterceptor(bagel.MetricsResponseInterceptor(p.opts.metrics))
	}

	if p.opts.debug {
		p.chain.AddRequestInterceptor(bagel.LoggingInterceptor(p.opts.logger))
		p.chain.AddResponseInterceptor(bagel.LoggingResponseInterceptor(p.opts.logger))
	}

	// Custom headers go last so they override anything set above.
	p.chain.AddRequestInterceptor(bagel.HeaderInterceptor(p.opts.headers))

	return p, nil
}

// Token returns the bearer the pipeline would attach right now: the session
// access token (refreshed if needed) while a session is active, otherwise the
// static API token.
func (p *Pipeline) Token(ctx context.Context) (string, error) {
	active, err := p.auth.IsSessionActive(ctx)
	if err != nil {
		return "", err
	}

	if !active {
		return p.apiToken, nil
	}

	token, err := p.auth.Cache().GetValidAccessToken(ctx)
	if err != nil {
		return "", err
	}

	if token == "" {
		return p.apiToken, nil
	}

	return token, nil
}

// IsSessionActive reports whether a user session is active.
func (p *Pipeline) IsSessionActive(ctx context.Context) (bool, error) {
	return p.auth.IsSessionActive(ctx)
}

// Refresh forces a session refresh. A refresh the auth service rejects logs
// the user out and returns ErrSessionExpired.
func (p *Pipeline) Refresh(ctx context.Context) (string, error) {
	return p.auth.Refresh(ctx)
}

// authorize sets the Authorization header. The refresh endpoint always uses
// the static token so that refreshing never recurses into itself.
func (p *Pipeline) authorize(ctx context.Context, req *bagel.Request) error {
	token := p.apiToken

	if !usesAPIToken(req) {
		var err error

		token, err = p.Token(ctx)
		if err != nil {
			return err
		}
	}

	return bagel.AuthenticationInterceptor(func(context.Context) (string, error) {
		return token, nil
	})(ctx, req)
}

// Do sends req through the interceptors and the transport. On a 401 while a
// session is active the session is refreshed and the request replayed once;
// if the refresh fails the user is logged out and ErrSessionExpired returned.
func (p *Pipeline) Do(ctx context.Context, req *bagel.Request) (*bagel.Response, error) {
	prepared := req.Clone()

	err := p.chain.ExecuteRequestInterceptors(ctx, prepared)
	if err != nil {
		if bagel.KindOf(err) == bagel.KindUpstreamAuth {
			return nil, p.auth.expireSession(ctx, err)
		}

		return nil, err
	}

	resp, err := p.send(ctx, prepared)
	if err == nil || !bagel.IsUnauthorized(err) {
		return resp, err
	}

	if prepared.Retried || usesAPIToken(prepared) {
		return resp, err
	}

	active, activeErr := p.auth.IsSessionActive(ctx)
	if activeErr != nil || !active {
		return resp, err
	}

	p.opts.logger.Debug("Request unauthorized, refreshing session", map[string]interface{}{
		"method": prepared.Method,
		"path":   prepared.Path,
	})

	token, refreshErr := p.auth.Cache().ForceRefresh(ctx)
	if refreshErr != nil {
		if errors.Is(refreshErr, context.Canceled) || errors.Is(refreshErr, context.DeadlineExceeded) {
			return resp, refreshErr
		}

		return nil, p.auth.expireSession(ctx, refreshErr)
	}

	retry := prepared.Clone()
	retry.Retried = true
	retry.Headers.Set(constants.HeaderAuthorization, constants.BearerPrefix+token)

	// Re-apply custom headers so they still win on the replay.
	err = bagel.HeaderInterceptor(p.opts.headers)(ctx, retry)
	if err != nil {
		return nil, err
	}

	return p.send(ctx, retry)
}

// Get performs a GET request through the pipeline.
func (p *Pipeline) Get(ctx context.Context, path string, query url.Values) (*bagel.Response, error) {
	return p.Do(ctx, &bagel.Request{Method: http.MethodGet, Path: path, Query: query})
}

func (p *Pipeline) send(ctx context.Context, req *bagel.Request) (*bagel.Response, error) {
	resp, err := p.transport.Do(ctx, req)

	observed := resp
	if observed == nil {
		observed = &bagel.Response{Error: err}
	} else if observed.Error == nil {
		observed.Error = err
	}

	interceptErr := p.chain.ExecuteResponseInterceptors(ctx, req, observed)
	if interceptErr != nil && err == nil {
		return resp, interceptErr
	}

	return resp, err
}

// usesAPIToken reports whether req is sent with the static API token and
// kept out of the 401 replay.
func usesAPIToken(req *bagel.Request) bool {
	return req.APITokenOnly || isRefreshRequest(req)
}

func isRefreshRequest(req *bagel.Request) bool {
	return strings.HasSuffix(strings.TrimRight(req.Path, "/"), constants.PathUserToken)
}
