package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/bageldb/libraries/internal/constants"
	"github.com/bageldb/libraries/internal/relay"
	"github.com/bageldb/libraries/pkg/bagel"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewListenCommand creates the listen command.
func NewListenCommand() *cobra.Command {
	var (
		itemID      string
		nested      string
		publish     bool
		relayPrefix string
	)

	cmd := &cobra.Command{
		Use:   "listen <collection>",
		Short: "Stream live changes of a collection",
		Long: `Subscribe to live changes of a collection, an item or a nested collection
and print every event until interrupted. With --publish every event is also
relayed to NATS on <relay-prefix>.<collection>.`,
		Example: `  bagel listen articles --item a1 --nested comments
  bagel listen articles --publish --nats-url nats://127.0.0.1:4222`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			query := buildLiveQuery(args[0], itemID, nested)

			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			var current atomic.Value

			requestID := func() string {
				if sub, ok := current.Load().(bagel.Subscription); ok {
					return sub.RequestID()
				}

				return ""
			}

			handlers := []func(bagel.Event){printEvent(cmd)}

			if publish {
				natsURL := viper.GetString("nats-url")
				if natsURL == "" {
					return constants.ErrNATSURLRequired
				}

				publisher, closeRelay, err := relay.Connect(natsURL, relayPrefix, s.logger)
				if err != nil {
					return err
				}
				defer closeRelay()

				handlers = append(handlers, publisher.Handler(query, requestID))

				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Relaying events to %s\n", publisher.Subject(query))
			}

			onMessage := func(ev bagel.Event) {
				for _, handle := range handlers {
					handle(ev)
				}
			}

			onError := func(err error) {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "stream error: %v\n", err)
			}

			sub, err := s.client.Listen(ctx, query, onMessage, onError)
			if err != nil {
				return err
			}

			current.Store(sub)

			select {
			case <-ctx.Done():
				_ = sub.Close()
				<-sub.Done()

				return nil
			case <-sub.Done():
				return sub.Err()
			}
		},
	}

	cmd.Flags().StringVar(&itemID, "item", "", "only stream changes of this item")
	cmd.Flags().StringVar(&nested, "nested", "", "nested collection path, dot separated")
	cmd.Flags().BoolVar(&publish, "publish", false, "relay events to NATS")
	cmd.Flags().StringVar(&relayPrefix, "relay-prefix", constants.DefaultRelayPrefix, "NATS subject prefix for relayed events")

	return cmd
}

func buildLiveQuery(collection, itemID, nested string) bagel.LiveQuery {
	query := bagel.Collection(collection)

	if itemID != "" {
		query = query.Item(itemID)
	}

	for _, id := range strings.Split(nested, ".") {
		if id != "" {
			query = query.Nested(id)
		}
	}

	return query
}

// printEvent writes one line per event: the raw data, or a JSON object when
// --output json is set.
func printEvent(cmd *cobra.Command) func(bagel.Event) {
	var mu sync.Mutex

	return func(ev bagel.Event) {
		mu.Lock()
		defer mu.Unlock()

		out := cmd.OutOrStdout()

		if viper.GetString("output") != OutputFormatJSON {
			_, _ = fmt.Fprintln(out, ev.Data)

			return
		}

		line, err := json.Marshal(struct {
			ID    string          `json:"id,omitempty"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}{ID: ev.ID, Event: ev.Name, Data: rawJSON(ev.Data)})
		if err != nil {
			_, _ = fmt.Fprintln(out, ev.Data)

			return
		}

		_, _ = fmt.Fprintln(out, string(line))
	}
}

// rawJSON embeds data verbatim when it is JSON and as a string otherwise.
func rawJSON(data string) json.RawMessage {
	if json.Valid([]byte(data)) {
		return json.RawMessage(data)
	}

	quoted, _ := json.Marshal(data)

	return quoted
}
