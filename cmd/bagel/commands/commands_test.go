package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bageldb/libraries/internal/auth"
	"github.com/bageldb/libraries/internal/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthServer answers the auth and content endpoints under /auth and
// /content.
func fakeAuthServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/auth/user/verify", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if body["password"] != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		writeTestJSON(w, map[string]interface{}{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"user_id":       "user-1",
		})
	})

	mux.HandleFunc("/auth/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))

		writeTestJSON(w, map[string]interface{}{
			"userID":     "user-1",
			"email":      "jane@example.com",
			"userGroups": []string{"editors"},
		})
	})

	mux.HandleFunc("/content/collection/articles/items", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, []map[string]string{{
			"_id":    "a1",
			"bearer": r.Header.Get("Authorization"),
			"page":   r.URL.Query().Get("pageNumber"),
		}})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func writeTestJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// configure points the global settings at server and a temporary
// credentials file.
func configure(t *testing.T, server *httptest.Server) string {
	t.Helper()

	credentials := filepath.Join(t.TempDir(), "credentials.yml")

	viper.Set("api-token", "project-token")
	viper.Set("context", "browser")
	viper.Set("auth-endpoint", server.URL+"/auth")
	viper.Set("content-endpoint", server.URL+"/content")
	viper.Set("credentials", credentials)

	t.Cleanup(viper.Reset)

	return credentials
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(""))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestLogin_RedisSession(t *testing.T) {
	server := fakeAuthServer(t)
	credentials := configure(t, server)
	redisServer := miniredis.RunT(t)

	viper.Set("session-redis", "redis://"+redisServer.Addr())
	viper.Set("session-namespace", "cli")

	_, err := execute(t, NewLoginCommand(), "--email", "jane@example.com", "--password", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, "user-1", redisServer.HGet("bagel:session:cli", constants.KeyUser))
	assert.Equal(t, "access-1", redisServer.HGet("bagel:session:cli", constants.KeyAccess))
	assert.NoFileExists(t, credentials)

	_, err = execute(t, NewLogoutCommand())
	require.NoError(t, err)
	assert.Empty(t, redisServer.HGet("bagel:session:cli", constants.KeyUser))
	assert.Empty(t, redisServer.HGet("bagel:session:cli", constants.KeyAccess))
}

func TestLoginStatusLogout(t *testing.T) {
	server := fakeAuthServer(t)
	credentials := configure(t, server)

	out, err := execute(t, NewLoginCommand(), "--email", "Jane@Example.com", "--password", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "Logged in as user-1\n", out)
	assert.FileExists(t, credentials)

	viper.Set("output", OutputFormatJSON)

	out, err = execute(t, newTokenStatusCommand())
	require.NoError(t, err)

	var status TokenStatus

	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.SessionActive)
	assert.Equal(t, "user-1", status.UserID)
	assert.Equal(t, "Valid", status.Status)
	assert.True(t, status.RefreshAvailable)

	out, err = execute(t, NewLogoutCommand())
	require.NoError(t, err)
	assert.Equal(t, "Logged out\n", out)

	out, err = execute(t, newTokenStatusCommand())
	require.NoError(t, err)

	status = TokenStatus{}

	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.False(t, status.SessionActive)
	assert.Equal(t, "No token", status.Status)
}

func TestLogin_PromptsForMissingCredentials(t *testing.T) {
	server := fakeAuthServer(t)
	configure(t, server)

	cmd := NewLoginCommand()
	cmd.SetIn(strings.NewReader("jane@example.com\nhunter2\n"))

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.ExecuteContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Logged in as user-1\n", out.String())
}

func TestReadLine(t *testing.T) {
	r := strings.NewReader("first\nsecond")

	line, err := readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "first", line)

	line, err = readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "second", line)

	_, err = readLine(r)
	require.ErrorIs(t, err, io.EOF)
}

func TestLogin_Rejected(t *testing.T) {
	server := fakeAuthServer(t)
	configure(t, server)

	_, err := execute(t, NewLoginCommand(), "--email", "jane@example.com", "--password", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
}

func TestWhoAmI(t *testing.T) {
	server := fakeAuthServer(t)
	configure(t, server)

	_, err := execute(t, NewLoginCommand(), "-e", "jane@example.com", "-p", "hunter2")
	require.NoError(t, err)

	out, err := execute(t, NewWhoAmICommand())
	require.NoError(t, err)
	assert.Contains(t, out, "jane@example.com")
	assert.Contains(t, out, "editors")

	viper.Set("output", OutputFormatYAML)

	out, err = execute(t, NewWhoAmICommand())
	require.NoError(t, err)
	assert.Contains(t, out, "user_id: user-1")
}

func TestWhoAmI_NotLoggedIn(t *testing.T) {
	server := fakeAuthServer(t)
	configure(t, server)

	_, err := execute(t, NewWhoAmICommand())
	require.ErrorContains(t, err, "no Bagel user is logged in")
}

func TestGet(t *testing.T) {
	server := fakeAuthServer(t)
	configure(t, server)

	out, err := execute(t, NewGetCommand(), "/collection/articles/items", "--query", "pageNumber=2")
	require.NoError(t, err)
	assert.Contains(t, out, `"bearer": "Bearer project-token"`)
	assert.Contains(t, out, `"page": "2"`)

	_, err = execute(t, NewGetCommand(), "/collection/articles/items", "-q", "broken")
	require.ErrorIs(t, err, constants.ErrInvalidQueryParam)
}

func TestNewSession_Validation(t *testing.T) {
	t.Cleanup(viper.Reset)

	_, err := newSession(context.Background())
	require.ErrorIs(t, err, constants.ErrNoConfiguredAPIKey)

	viper.Set("api-token", "project-token")
	viper.Set("context", "desktop")

	_, err = newSession(context.Background())
	require.ErrorIs(t, err, constants.ErrUnknownContext)
}

func TestUpdatePassword_RequiresServerContext(t *testing.T) {
	server := fakeAuthServer(t)
	configure(t, server)

	_, err := execute(t, NewUpdatePasswordCommand(), "-e", "jane@example.com", "-p", "new-secret")
	require.ErrorContains(t, err, "only available in a server context")
}

func TestListen_PublishRequiresNATSURL(t *testing.T) {
	server := fakeAuthServer(t)
	configure(t, server)

	_, err := execute(t, NewListenCommand(), "articles", "--publish")
	require.ErrorIs(t, err, constants.ErrNATSURLRequired)
}

func TestVersion(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("output", OutputFormatJSON)

	out, err := execute(t, NewVersionCommand("1.2.3", "abc123", "2026-01-01"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.2.3","commit":"abc123","built":"2026-01-01"}`, out)
}

func TestBuildTokenStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		token      *auth.Token
		wantStatus string
		wantUntil  string
	}{
		{
			name:       "no token",
			token:      &auth.Token{},
			wantStatus: "No token",
		},
		{
			name:       "valid",
			token:      &auth.Token{AccessToken: "opaque", ExpiresAt: now.Add(90 * time.Second)},
			wantStatus: "Valid",
			wantUntil:  "1m30s",
		},
		{
			name:       "expired",
			token:      &auth.Token{AccessToken: "opaque", ExpiresAt: now},
			wantStatus: "Expired",
			wantUntil:  "expired",
		},
		{
			name:       "opaque token without expiry",
			token:      &auth.Token{AccessToken: "opaque"},
			wantStatus: "Unknown expiration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := buildTokenStatus(true, "user-1", tt.token, now)
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantUntil, status.TimeUntilExpiry)
		})
	}
}

func TestBuildLiveQuery(t *testing.T) {
	query := buildLiveQuery("articles", "a1", "comments..replies")

	assert.Equal(t, "articles", query.CollectionID())
	assert.Equal(t, "a1", query.ItemID())
	assert.Equal(t, "comments.replies", query.NestedID())
}

func TestRawJSON(t *testing.T) {
	assert.JSONEq(t, `{"a":1}`, string(rawJSON(`{"a":1}`)))
	assert.JSONEq(t, `"plain text"`, string(rawJSON("plain text")))
}
