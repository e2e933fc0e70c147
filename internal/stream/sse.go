package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bageldb/libraries/internal/constants"
	"github.com/bageldb/libraries/pkg/bagel"
	"github.com/hashicorp/go-cleanhttp"
)

// ConnState mirrors the ready states of a browser EventSource.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnOpen
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one server-sent event.
type Event = bagel.Event

// Conn is an open event stream. Events is closed when the stream ends; Err
// then reports why (nil after a clean end of stream).
type Conn interface {
	Events() <-chan Event
	Err() error
	State() ConnState
	Close() error
}

// Dialer opens event streams.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// SSEDialer dials text/event-stream endpoints over HTTP.
type SSEDialer struct {
	client    *http.Client
	userAgent string
}

// NewSSEDialer creates a dialer. A nil client uses a pooled client without
// an overall timeout, since streams are long-lived.
func NewSSEDialer(client *http.Client, userAgent string) *SSEDialer {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}

	if userAgent == "" {
		userAgent = constants.DefaultUserAgent
	}

	return &SSEDialer{client: client, userAgent: userAgent}
}

// Dial opens the stream at url. The returned connection lives until Close is
// called, ctx is done, or the server ends the stream.
func (d *SSEDialer) Dial(ctx context.Context, url string) (Conn, error) {
	connCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("creating stream request: %w", err)
	}

	req.Header.Set(constants.HeaderAccept, constants.ContentTypeSSE)
	req.Header.Set(constants.HeaderUserAgent, d.userAgent)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.client.Do(req)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("%w: opening stream: %w", bagel.ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()

		cancel()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxErrorBodySize))

		return nil, &bagel.HTTPError{
			Kind:       bagel.KindUpstreamContent,
			Op:         "open stream",
			Method:     http.MethodGet,
			URL:        req.URL.Path,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get(constants.HeaderContentType))
	if mediaType != constants.ContentTypeSSE {
		_ = resp.Body.Close()

		cancel()

		return nil, fmt.Errorf("%w: %q", constants.ErrUnexpectedContentType, mediaType)
	}

	conn := &sseConn{
		body:   resp.Body,
		cancel: cancel,
		events: make(chan Event, constants.EventBufferSize),
		done:   make(chan struct{}),
		state:  ConnOpen,
	}

	go conn.read()

	return conn, nil
}

type sseConn struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	mu        sync.Mutex
	state     ConnState
	err       error
	closeOnce sync.Once
}

func (c *sseConn) Events() <-chan Event {
	return c.events
}

func (c *sseConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

func (c *sseConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Close stops reading. Pending events are dropped.
func (c *sseConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})

	return nil
}

func (c *sseConn) read() {
	defer close(c.events)
	defer func() {
		_ = c.body.Close()
	}()

	err := parseEvents(c.body, func(ev Event) bool {
		select {
		case c.events <- ev:
			return true
		case <-c.done:
			return false
		}
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = ConnClosed

	select {
	case <-c.done:
		// Closed by the caller; not an error.
	default:
		if err != nil {
			c.err = fmt.Errorf("%w: reading stream: %w", bagel.ErrTransport, err)
		} else {
			c.err = constants.ErrStreamClosed
		}
	}
}

// parseEvents reads the text/event-stream format from r and hands every
// complete event to emit until r ends or emit returns false. A clean end of
// stream returns nil.
func parseEvents(r io.Reader, emit func(Event) bool) error {
	reader := bufio.NewReader(r)

	var (
		ev      Event
		data    strings.Builder
		hasData bool
	)

	reset := func() {
		ev = Event{ID: ev.ID}
		data.Reset()

		hasData = false
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			// Named events are dispatched even without data: stop carries none.
			if hasData || ev.Name != "" {
				out := ev
				out.Data = data.String()

				if out.Name == "" {
					out.Name = constants.EventMessage
				}

				if !emit(out) {
					return nil
				}
			}

			reset()

			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}

			data.WriteString(value)

			hasData = true
		case "id":
			ev.ID = value
		case "retry":
			if millis, convErr := strconv.Atoi(value); convErr == nil {
				ev.Retry = time.Duration(millis) * time.Millisecond
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}
