package auth

import (
	"time"

	"github.com/bageldb/libraries/pkg/bagel"
)

type options struct {
	execCtx bagel.ExecutionContext
	logger  bagel.Logger
	metrics *bagel.Metrics
	now     func() time.Time
	headers map[string]string
	debug   bool
}

// Option configures the token cache, authenticator and pipeline.
type Option func(*options)

// WithExecutionContext sets the host kind.
func WithExecutionContext(execCtx bagel.ExecutionContext) Option {
	return func(o *options) {
		o.execCtx = execCtx
	}
}

// WithLogger sets the logger.
func WithLogger(logger bagel.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(metrics *bagel.Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithHeaders sets custom headers the pipeline merges last into every request.
func WithHeaders(headers map[string]string) Option {
	return func(o *options) {
		o.headers = headers
	}
}

// WithDebug makes the pipeline log every request and response.
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		execCtx: bagel.ContextBrowser,
		logger:  bagel.NopLogger{},
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}
