//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSessionWorkflow_LoginRefreshLogout logs in, forces a refresh, reads as
// the user and logs out again.
func TestSessionWorkflow_LoginRefreshLogout(t *testing.T) {
	config := LoadTestConfig()
	config.SkipIfMissingConfig(t)

	runner := NewCommandRunner(config, t)

	require.NoError(t, runner.Login())

	defer func() {
		_, _, _ = runner.Run("logout")
	}()

	stdout, stderr, err := runner.Run("whoami", "--output", "json")
	require.NoError(t, err, "whoami failed: %s", stderr)
	AssertJSONOutput(t, stdout)

	var user struct {
		UserID string `json:"userID"`
		Email  string `json:"email"`
	}

	require.NoError(t, json.Unmarshal([]byte(stdout), &user))
	assert.NotEmpty(t, user.UserID)
	assert.Equal(t, strings.ToLower(config.Email), strings.ToLower(user.Email))

	stdout, stderr, err = runner.Run("token", "status", "--output", "json")
	require.NoError(t, err, "token status failed: %s", stderr)

	var before struct {
		SessionActive bool   `json:"session_active"`
		ExpiresAt     string `json:"expires_at"`
	}

	require.NoError(t, json.Unmarshal([]byte(stdout), &before))
	assert.True(t, before.SessionActive)

	// Expiries have second resolution; make sure the refreshed one differs.
	time.Sleep(time.Second)

	_, stderr, err = runner.Run("token", "refresh")
	require.NoError(t, err, "token refresh failed: %s", stderr)

	stdout, _, err = runner.Run("token", "status", "--output", "json")
	require.NoError(t, err)

	var after struct {
		ExpiresAt string `json:"expires_at"`
	}

	require.NoError(t, json.Unmarshal([]byte(stdout), &after))
	assert.NotEqual(t, before.ExpiresAt, after.ExpiresAt)

	stdout, stderr, err = runner.Run("logout")
	require.NoError(t, err, "logout failed: %s", stderr)
	assert.Contains(t, stdout, "Logged out")

	_, _, err = runner.Run("whoami")
	require.Error(t, err, "whoami must fail after logout")
}

// TestSessionWorkflow_WrongPassword expects a rejected login to leave no
// session behind.
func TestSessionWorkflow_WrongPassword(t *testing.T) {
	config := LoadTestConfig()
	config.SkipIfMissingConfig(t)

	runner := NewCommandRunner(config, t)

	_, stderr, err := runner.Run("login", "--email", config.Email, "--password", "definitely-wrong")
	require.Error(t, err)
	assert.Contains(t, stderr, "login failed")

	stdout, _, err := runner.Run("token", "status", "--output", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"session_active": false`)
}

// TestLiveWorkflow_Listen opens a live stream and expects it to stay up.
func TestLiveWorkflow_Listen(t *testing.T) {
	config := LoadTestConfig()
	config.SkipIfMissingConfig(t)

	if config.Collection == "" {
		t.Skip("BAGEL_TEST_COLLECTION not set, skipping live test")
	}

	runner := NewCommandRunner(config, t)
	require.NoError(t, runner.Login())

	cmd := exec.Command(config.BagelPath, "listen", config.Collection, "--output", "json")
	cmd.Env = append(cmd.Environ(),
		"BAGEL_API_TOKEN="+config.APIToken,
		"BAGEL_CREDENTIALS="+runner.credentials,
	)

	var (
		mu     sync.Mutex
		stderr bytes.Buffer
	)

	cmd.Stderr = &lockedWriter{mu: &mu, w: &stderr}

	require.NoError(t, cmd.Start())

	exited := make(chan error, 1)

	go func() {
		exited <- cmd.Wait()
	}()

	select {
	case err := <-exited:
		mu.Lock()
		defer mu.Unlock()

		t.Fatalf("listen exited early: %v\n%s", err, stderr.String())
	case <-time.After(5 * time.Second):
	}

	require.NoError(t, cmd.Process.Signal(os.Interrupt))

	WaitForCondition(t, func() bool {
		select {
		case <-exited:
			return true
		default:
			return false
		}
	}, 10*time.Second, "listen did not stop after interrupt")
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.w.Write(p)
}
