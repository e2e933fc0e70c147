package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bageldb/libraries/internal/constants"
	"github.com/bageldb/libraries/pkg/bagel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, input string) []Event {
	t.Helper()

	var events []Event

	err := parseEvents(strings.NewReader(input), func(ev Event) bool {
		events = append(events, ev)

		return true
	})
	require.NoError(t, err)

	return events
}

func TestParseEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []Event
	}{
		{
			name:  "default message",
			input: "data: hello\n\n",
			want:  []Event{{Name: "message", Data: "hello"}},
		},
		{
			name:  "named event with crlf",
			input: "event: start\r\ndata: req-1\r\n\r\n",
			want:  []Event{{Name: "start", Data: "req-1"}},
		},
		{
			name:  "named event without data",
			input: "event: stop\n\n",
			want:  []Event{{Name: "stop"}},
		},
		{
			name:  "multi-line data",
			input: "data: {\"a\":\ndata: 1}\n\n",
			want:  []Event{{Name: "message", Data: "{\"a\":\n1}"}},
		},
		{
			name:  "comments and unknown fields are ignored",
			input: ": keep-alive\nfoo: bar\ndata: x\n\n",
			want:  []Event{{Name: "message", Data: "x"}},
		},
		{
			name:  "id persists and retry is parsed",
			input: "id: 7\nretry: 1500\ndata: a\n\ndata: b\n\n",
			want: []Event{
				{ID: "7", Name: "message", Data: "a", Retry: 1500 * time.Millisecond},
				{ID: "7", Name: "message", Data: "b"},
			},
		},
		{
			name:  "blank lines alone dispatch nothing",
			input: "\n\n\n",
			want:  nil,
		},
		{
			name:  "incomplete trailing event is dropped",
			input: "data: complete\n\ndata: partial",
			want:  []Event{{Name: "message", Data: "complete"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, collect(t, tt.input))
		})
	}
}

func TestParseEvents_StopsWhenEmitDeclines(t *testing.T) {
	t.Parallel()

	count := 0

	err := parseEvents(strings.NewReader("data: 1\n\ndata: 2\n\n"), func(Event) bool {
		count++

		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSSEDialer_Dial(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, constants.ContentTypeSSE, r.Header.Get("Accept"))
		assert.Equal(t, "token-1", r.URL.Query().Get("authorization"))

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "event: start\ndata: req-1\n\ndata: hello\n\n")
	}))
	defer server.Close()

	conn, err := NewSSEDialer(nil, "").Dial(context.Background(), server.URL+"/live?authorization=token-1")
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	var events []Event
	for ev := range conn.Events() {
		events = append(events, ev)
	}

	require.Len(t, events, 2)
	assert.Equal(t, Event{Name: "start", Data: "req-1"}, events[0])
	assert.Equal(t, Event{Name: "message", Data: "hello"}, events[1])

	assert.Equal(t, ConnClosed, conn.State())
	require.ErrorIs(t, conn.Err(), constants.ErrStreamClosed)
}

func TestSSEDialer_RejectsErrors(t *testing.T) {
	t.Parallel()

	t.Run("status", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = fmt.Fprint(w, `{"message":"bad token"}`)
		}))
		defer server.Close()

		_, err := NewSSEDialer(nil, "").Dial(context.Background(), server.URL)
		require.Error(t, err)
		assert.True(t, bagel.IsUnauthorized(err))
		assert.Contains(t, err.Error(), "bad token")
	})

	t.Run("content type", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprint(w, `{}`)
		}))
		defer server.Close()

		_, err := NewSSEDialer(nil, "").Dial(context.Background(), server.URL)
		require.ErrorIs(t, err, constants.ErrUnexpectedContentType)
	})

	t.Run("transport", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := NewSSEDialer(nil, "").Dial(context.Background(), url)
		require.ErrorIs(t, err, bagel.ErrTransport)
	})
}

func TestSSEDialer_CloseIsNotAnError(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", constants.ContentTypeSSE)
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	conn, err := NewSSEDialer(nil, "").Dial(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, ConnOpen, conn.State())

	require.NoError(t, conn.Close())

	for range conn.Events() {
	}

	assert.Equal(t, ConnClosed, conn.State())
	assert.NoError(t, conn.Err())
}
