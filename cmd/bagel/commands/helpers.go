package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bageldb/libraries/internal/constants"
	"github.com/bageldb/libraries/pkg/bagel"
	"github.com/bageldb/libraries/pkg/bagelclient"
	"github.com/hashicorp/go-hclog"
	"github.com/nats-io/nats.go"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	OutputFormatJSON = "json"
	OutputFormatYAML = "yaml"
)

// session is a client plus whatever it holds open.
type session struct {
	client *bagelclient.Client
	logger bagel.Logger
	close  func()
}

// newSession builds a client from the global flags, environment and config
// file. The session lives in the credentials file unless a NATS session
// bucket is configured.
func newSession(ctx context.Context) (*session, error) {
	apiToken := viper.GetString("api-token")
	if apiToken == "" {
		return nil, constants.ErrNoConfiguredAPIKey
	}

	execCtx, ok := bagel.ParseExecutionContext(viper.GetString("context"))
	if !ok {
		return nil, fmt.Errorf("%w: %q", constants.ErrUnknownContext, viper.GetString("context"))
	}

	logger := newLogger()

	store, closeStore, err := newStore(ctx)
	if err != nil {
		return nil, err
	}

	client, err := bagelclient.New(ctx, &bagel.Config{
		APIToken:        apiToken,
		Context:         execCtx,
		Store:           store,
		ContentEndpoint: viper.GetString("content-endpoint"),
		AuthEndpoint:    viper.GetString("auth-endpoint"),
		LiveEndpoint:    viper.GetString("live-endpoint"),
		Debug:           viper.GetBool("verbose"),
		Logger:          logger,
	})
	if err != nil {
		closeStore()

		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &session{client: client, logger: logger, close: closeStore}, nil
}

func newLogger() bagel.Logger {
	level := hclog.Warn
	if viper.GetBool("verbose") {
		level = hclog.Debug
	}

	return bagel.NewHCLogger(hclog.New(&hclog.LoggerOptions{
		Name:   "bagel",
		Level:  level,
		Output: os.Stderr,
	}))
}

func newStore(ctx context.Context) (bagel.CredentialStore, func(), error) {
	if redisURL := viper.GetString("session-redis"); redisURL != "" {
		store, closeStore, err := bagelclient.NewRedisStore(ctx, redisURL, viper.GetString("session-namespace"))
		if err != nil {
			return nil, nil, err
		}

		return store, func() { _ = closeStore() }, nil
	}

	bucket := viper.GetString("session-bucket")
	if bucket == "" {
		return bagelclient.NewFileStore(credentialsPath()), func() {}, nil
	}

	natsURL := viper.GetString("nats-url")
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	conn, err := nats.Connect(natsURL, nats.Name("bagel-cli"))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	store, err := bagelclient.NewKVStore(conn, bucket, viper.GetString("session-namespace"))
	if err != nil {
		conn.Close()

		return nil, nil, err
	}

	return store, conn.Close, nil
}

func credentialsPath() string {
	if path := viper.GetString("credentials"); path != "" {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(constants.ConfigDirName, constants.CredentialsFileName)
	}

	return filepath.Join(home, constants.ConfigDirName, constants.CredentialsFileName)
}

// render writes v as JSON or YAML, or calls table for the default format.
func render(w io.Writer, v interface{}, table func(*tablewriter.Table)) error {
	switch viper.GetString("output") {
	case OutputFormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		err := encoder.Encode(v)
		if err != nil {
			return fmt.Errorf("encoding to JSON: %w", err)
		}

		return nil
	case OutputFormatYAML:
		encoder := yaml.NewEncoder(w)

		err := encoder.Encode(v)
		if err != nil {
			return fmt.Errorf("encoding to YAML: %w", err)
		}

		return encoder.Close()
	default:
		t := tablewriter.NewWriter(w)
		table(t)

		err := t.Render()
		if err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}

		return nil
	}
}

// prompt reads one line from the command's input, asking with label.
func prompt(cmd *cobra.Command, label string) (string, error) {
	_, _ = fmt.Fprint(cmd.ErrOrStderr(), label)

	line, err := readLine(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
	}

	return strings.TrimSpace(line), nil
}

// readLine reads up to and excluding the next newline without buffering
// past it, so consecutive prompts can share one reader.
func readLine(r io.Reader) (string, error) {
	var (
		line strings.Builder
		buf  [1]byte
	)

	for {
		n, err := r.Read(buf[:])
		if n > 0 {
			if buf[0] == '\n' {
				return line.String(), nil
			}

			line.WriteByte(buf[0])
		}

		if errors.Is(err, io.EOF) && line.Len() > 0 {
			return line.String(), nil
		}

		if err != nil {
			return "", err
		}
	}
}

// promptPassword reads a password without echo when stdin is a terminal.
func promptPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if cmd.InOrStdin() != os.Stdin || !term.IsTerminal(fd) {
		return prompt(cmd, "Password: ")
	}

	_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Password: ")

	password, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(cmd.ErrOrStderr())

	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	return string(password), nil
}

// credentialsFromFlags fills missing email and password interactively.
func credentialsFromFlags(cmd *cobra.Command, email, password string) (string, string, error) {
	var err error

	if email == "" {
		email, err = prompt(cmd, "Email: ")
		if err != nil {
			return "", "", err
		}
	}

	if email == "" {
		return "", "", constants.ErrEmailRequired
	}

	if password == "" {
		password, err = promptPassword(cmd)
		if err != nil {
			return "", "", err
		}
	}

	return email, password, nil
}
