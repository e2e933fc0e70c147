package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bageldb/libraries/internal/constants"
	"github.com/bageldb/libraries/pkg/bagel"
	"github.com/cenkalti/backoff/v4"
)

// State is the lifecycle of a live subscription.
type State = bagel.StreamState

const (
	StateDisconnected = bagel.StreamDisconnected
	StateConnecting   = bagel.StreamConnecting
	StateOpen         = bagel.StreamOpen
	StateReconnecting = bagel.StreamReconnecting
)

// Credentials supplies the bearer embedded in stream URLs.
type Credentials interface {
	// Token returns the session token while a session is active, otherwise
	// the static API token.
	Token(ctx context.Context) (string, error)
	// Refresh forces a session refresh and returns the new access token.
	Refresh(ctx context.Context) (string, error)
	IsSessionActive(ctx context.Context) (bool, error)
}

// MessageHandler receives every event other than start and stop.
type MessageHandler func(Event)

// ErrorHandler receives stream failures the reconnector could not absorb.
type ErrorHandler func(error)

// Option configures a Reconnector.
type Option func(*Reconnector)

// WithDialer replaces the SSE dialer.
func WithDialer(dialer Dialer) Option {
	return func(r *Reconnector) {
		r.dialer = dialer
	}
}

// WithLogger sets the logger.
func WithLogger(logger bagel.Logger) Option {
	return func(r *Reconnector) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(metrics *bagel.Metrics) Option {
	return func(r *Reconnector) {
		r.metrics = metrics
	}
}

// WithBackOff sets the redial policy. The factory is called once per redial
// sequence.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(r *Reconnector) {
		if newBackOff != nil {
			r.newBackOff = newBackOff
		}
	}
}

// Reconnector opens live subscriptions and keeps them alive across server
// handoffs and token rotation.
type Reconnector struct {
	endpoint    string
	credentials Credentials
	dialer      Dialer
	logger      bagel.Logger
	metrics     *bagel.Metrics
	newBackOff  func() backoff.BackOff
}

// NewReconnector creates a reconnector for the live endpoint.
func NewReconnector(endpoint string, credentials Credentials, opts ...Option) *Reconnector {
	r := &Reconnector{
		endpoint:    strings.TrimRight(endpoint, "/"),
		credentials: credentials,
		logger:      bagel.NopLogger{},
		newBackOff:  defaultBackOff,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.dialer == nil {
		r.dialer = NewSSEDialer(nil, "")
	}

	return r
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = constants.StreamRedialInitialInterval
	b.MaxInterval = constants.StreamRedialMaxInterval
	b.MaxElapsedTime = 0

	return backoff.WithMaxRetries(b, constants.StreamRedialAttempts)
}

// Listen opens a subscription for query. onMessage is required; onError may
// be nil. The subscription runs until the returned handle is closed or ctx
// is done.
func (r *Reconnector) Listen(ctx context.Context, query bagel.LiveQuery, onMessage MessageHandler, onError ErrorHandler) (*Handle, error) {
	if onMessage == nil {
		return nil, constants.ErrMissingMessageHandler
	}

	if query.CollectionID() == "" {
		return nil, constants.ErrCollectionRequired
	}

	if onError == nil {
		onError = func(error) {}
	}

	runCtx, cancel := context.WithCancel(ctx)

	h := &Handle{
		r:         r,
		query:     query,
		onMessage: onMessage,
		onError:   onError,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateConnecting,
	}

	token, err := r.credentials.Token(runCtx)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("listen: %w", err)
	}

	conn, err := r.dialer.Dial(runCtx, r.streamURL(query, token, ""))
	if err != nil {
		cancel()

		return nil, fmt.Errorf("listen: %w", err)
	}

	h.setConn(conn, StateOpen)

	go h.run(runCtx, conn)

	return h, nil
}

// streamURL embeds the token and correlation parameters. The token travels in
// the query string because browsers cannot set headers on an EventSource.
func (r *Reconnector) streamURL(query bagel.LiveQuery, token, requestID string) string {
	params := url.Values{}
	params.Set(constants.ParamAuthorization, token)
	params.Set(constants.ParamRequestID, requestID)
	params.Set(constants.ParamNestedID, query.NestedID())
	params.Set(constants.ParamItemID, query.ItemID())

	return r.endpoint + "/collection/" + url.PathEscape(query.CollectionID()) + "/live?" + params.Encode()
}

// Handle is a live subscription. Its connection is replaced on every
// reconnect; the handle itself stays valid until Close.
type Handle struct {
	r         *Reconnector
	query     bagel.LiveQuery
	onMessage MessageHandler
	onError   ErrorHandler
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	conn      Conn
	state     State
	requestID string
	err       error
}

// RequestID returns the correlation id the server assigned, or "" before the
// start event arrived.
func (h *Handle) RequestID() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.requestID
}

// State returns the subscription state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// Done is closed once the subscription has stopped for good.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the error that ended the subscription, or nil after Close.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.err
}

// Close ends the subscription. It does not wait; Done is closed once the
// subscription has stopped, so Close is safe to call from a handler.
func (h *Handle) Close() error {
	h.cancel()

	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}

	return nil
}

func (h *Handle) setConn(conn Conn, state State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conn = conn
	h.state = state
}

func (h *Handle) setState(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state = state
}

func (h *Handle) run(ctx context.Context, conn Conn) {
	defer close(h.done)
	defer h.setState(StateDisconnected)

	for {
		stopped := h.consume(ctx, conn)

		if ctx.Err() != nil {
			_ = conn.Close()

			return
		}

		refresh, reason := h.classify(ctx, conn, stopped)

		h.r.metrics.ObserveReconnect(reason)
		h.setState(StateReconnecting)

		next, err := h.redial(ctx, refresh)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			h.r.logger.Error("Live stream lost", map[string]interface{}{
				"collection": h.query.CollectionID(),
				"error":      err.Error(),
			})

			h.mu.Lock()
			h.err = err
			h.mu.Unlock()

			h.onError(err)

			return
		}

		h.setConn(next, StateOpen)
		conn = next
	}
}

// consume dispatches events until the connection ends or the server sends
// stop, which it reports as true.
func (h *Handle) consume(ctx context.Context, conn Conn) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-conn.Events():
			if !ok {
				return false
			}

			switch ev.Name {
			case constants.EventStart:
				h.mu.Lock()
				h.requestID = ev.Data
				h.mu.Unlock()

				h.r.logger.Debug("Live stream started", map[string]interface{}{
					"collection": h.query.CollectionID(),
					"request_id": ev.Data,
				})
			case constants.EventStop:
				_ = conn.Close()

				return true
			default:
				h.onMessage(ev)
			}
		}
	}
}

// classify decides how to reopen after a connection ended. A server stop and
// a closed connection during a session reconnect silently with a refreshed
// token; anything else is reported to the caller first.
func (h *Handle) classify(ctx context.Context, conn Conn, stopped bool) (bool, string) {
	active, err := h.r.credentials.IsSessionActive(ctx)
	if err != nil {
		active = false
	}

	if stopped {
		h.r.logger.Debug("Live stream handed off by server", map[string]interface{}{
			"collection": h.query.CollectionID(),
			"request_id": h.RequestID(),
		})

		return active, "stop"
	}

	if conn.State() == ConnClosed && active {
		return true, "closed"
	}

	cause := conn.Err()
	if cause == nil {
		cause = constants.ErrStreamClosed
	}

	h.onError(cause)

	return false, "error"
}

// redial reopens the stream with the captured request id, retrying with
// backoff. A refresh happens at most once per disconnect; later attempts reuse
// whatever token the credentials currently hold. A refresh the auth service
// rejects is not retried.
func (h *Handle) redial(ctx context.Context, refresh bool) (Conn, error) {
	var (
		conn  Conn
		token string
	)

	if refresh {
		fresh, err := h.refreshToken(ctx)
		if err != nil {
			if isPermanent(err) {
				return nil, fmt.Errorf("reconnecting live stream: %w", err)
			}

			h.r.logger.Warn("Live stream token refresh failed", map[string]interface{}{
				"collection": h.query.CollectionID(),
				"error":      err.Error(),
			})
		}

		token = fresh
	}

	operation := func() error {
		if token == "" {
			current, err := h.r.credentials.Token(ctx)
			if err != nil {
				if isPermanent(err) {
					return backoff.Permanent(err)
				}

				return err
			}

			token = current
		}

		next, err := h.r.dialer.Dial(ctx, h.r.streamURL(h.query, token, h.RequestID()))
		if err != nil {
			token = ""

			return err
		}

		conn = next

		return nil
	}

	notify := func(err error, wait time.Duration) {
		h.r.logger.Warn("Live stream redial failed", map[string]interface{}{
			"collection": h.query.CollectionID(),
			"error":      err.Error(),
			"retry_in":   wait.String(),
		})
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(h.r.newBackOff(), ctx), notify)
	if err != nil {
		return nil, fmt.Errorf("reconnecting live stream: %w", err)
	}

	return conn, nil
}

func isPermanent(err error) bool {
	return bagel.IsSessionExpired(err) || bagel.IsNoActiveSession(err)
}

func (h *Handle) refreshToken(ctx context.Context) (string, error) {
	token, err := h.r.credentials.Refresh(ctx)
	if err != nil {
		return "", err
	}

	if token == "" {
		return "", constants.ErrEmptyToken
	}

	return token, nil
}
