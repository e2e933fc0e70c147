// Package relay forwards live stream events to a NATS subject so other
// processes can consume a single subscription.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bageldb/libraries/internal/stream"
	"github.com/bageldb/libraries/pkg/bagel"
	"github.com/nats-io/nats.go"
)

// ErrSubjectRequired is returned when no subject is configured.
var ErrSubjectRequired = errors.New("NATS subject is required")

// Publisher is the subset of *nats.Conn the relay needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON document published for every event.
type Message struct {
	Collection string    `json:"collection"`
	ItemID     string    `json:"item_id,omitempty"`
	NestedID   string    `json:"nested_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Event      string    `json:"event"`
	ID         string    `json:"id,omitempty"`
	Data       string    `json:"data"`
	ReceivedAt time.Time `json:"received_at"`
}

// NATSPublisher publishes live events. The subject is the configured prefix
// followed by the collection id.
type NATSPublisher struct {
	pub    Publisher
	prefix string
	logger bagel.Logger
	now    func() time.Time
}

// NewNATSPublisher creates a publisher on pub.
func NewNATSPublisher(pub Publisher, prefix string, logger bagel.Logger) (*NATSPublisher, error) {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return nil, ErrSubjectRequired
	}

	if logger == nil {
		logger = bagel.NopLogger{}
	}

	return &NATSPublisher{pub: pub, prefix: prefix, logger: logger, now: time.Now}, nil
}

// Connect dials url and returns a publisher on the connection together with
// a function that drains and closes it.
func Connect(url, prefix string, logger bagel.Logger) (*NATSPublisher, func(), error) {
	conn, err := nats.Connect(url,
		nats.Name("bagel-live-relay"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	publisher, err := NewNATSPublisher(conn, prefix, logger)
	if err != nil {
		conn.Close()

		return nil, nil, err
	}

	closer := func() {
		_ = conn.Drain()
	}

	return publisher, closer, nil
}

// Subject returns the subject events of query are published on.
func (p *NATSPublisher) Subject(query bagel.LiveQuery) string {
	return p.prefix + "." + query.CollectionID()
}

// Publish sends one event.
func (p *NATSPublisher) Publish(query bagel.LiveQuery, requestID string, ev stream.Event) error {
	msg := Message{
		Collection: query.CollectionID(),
		ItemID:     query.ItemID(),
		NestedID:   query.NestedID(),
		RequestID:  requestID,
		Event:      ev.Name,
		ID:         ev.ID,
		Data:       ev.Data,
		ReceivedAt: p.now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding relay message: %w", err)
	}

	err = p.pub.Publish(p.Subject(query), data)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", p.Subject(query), err)
	}

	return nil
}

// Handler adapts the publisher to a stream message handler. requestID is
// read on every event since it changes when the server assigns one.
// Publish failures are logged and do not stop the stream.
func (p *NATSPublisher) Handler(query bagel.LiveQuery, requestID func() string) stream.MessageHandler {
	return func(ev stream.Event) {
		id := ""
		if requestID != nil {
			id = requestID()
		}

		err := p.Publish(query, id, ev)
		if err != nil {
			p.logger.Warn("Relay publish failed", map[string]interface{}{
				"subject": p.Subject(query),
				"error":   err.Error(),
			})
		}
	}
}
