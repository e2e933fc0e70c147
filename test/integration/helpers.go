//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestConfig holds configuration for integration tests.
type TestConfig struct {
	APIToken   string
	Email      string
	Password   string
	Collection string
	BagelPath  string
	Verbose    bool
}

// LoadTestConfig loads configuration from environment variables.
func LoadTestConfig() *TestConfig {
	return &TestConfig{
		APIToken:   os.Getenv("BAGEL_API_TOKEN"),
		Email:      os.Getenv("BAGEL_TEST_EMAIL"),
		Password:   os.Getenv("BAGEL_TEST_PASSWORD"),
		Collection: os.Getenv("BAGEL_TEST_COLLECTION"),
		BagelPath:  getBagelPath(),
		Verbose:    os.Getenv("BAGEL_VERBOSE") == "true",
	}
}

// getBagelPath determines the path to the bagel binary.
func getBagelPath() string {
	if path := os.Getenv("BAGEL_BINARY_PATH"); path != "" {
		return path
	}

	candidates := []string{
		"../../bagel",
		"./bagel",
		"../bagel",
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "bagel"
}

// SkipIfMissingConfig skips the test if required config is missing.
func (config *TestConfig) SkipIfMissingConfig(t *testing.T) {
	t.Helper()

	if config.APIToken == "" {
		t.Skip("BAGEL_API_TOKEN not set, skipping integration test")
	}

	if config.Email == "" || config.Password == "" {
		t.Skip("BAGEL_TEST_EMAIL or BAGEL_TEST_PASSWORD not set, skipping integration test")
	}

	if _, err := exec.LookPath(config.BagelPath); err != nil {
		t.Skipf("bagel binary not found at %s, skipping integration test", config.BagelPath)
	}
}

// CommandRunner runs bagel commands against an isolated credentials file.
type CommandRunner struct {
	config      *TestConfig
	credentials string
	t           *testing.T
}

// NewCommandRunner creates a new command runner.
func NewCommandRunner(config *TestConfig, t *testing.T) *CommandRunner {
	t.Helper()

	return &CommandRunner{
		config:      config,
		credentials: filepath.Join(t.TempDir(), "credentials.yml"),
		t:           t,
	}
}

// Run executes a bagel command and returns its output.
func (runner *CommandRunner) Run(args ...string) (stdout, stderr string, err error) {
	return runner.RunWithInput("", args...)
}

// RunWithInput executes a bagel command with stdin input.
func (runner *CommandRunner) RunWithInput(input string, args ...string) (stdout, stderr string, err error) {
	cmd := exec.Command(runner.config.BagelPath, args...)
	cmd.Env = append(os.Environ(),
		"BAGEL_API_TOKEN="+runner.config.APIToken,
		"BAGEL_CREDENTIALS="+runner.credentials,
	)

	var stdoutBuf, stderrBuf bytes.Buffer

	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	cmd.Stdin = strings.NewReader(input)

	if runner.config.Verbose {
		runner.t.Logf("Running: %s %s", runner.config.BagelPath, strings.Join(args, " "))
	}

	err = cmd.Run()
	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if runner.config.Verbose && err != nil {
		runner.t.Logf("Command failed: %v\nStdout: %s\nStderr: %s", err, stdout, stderr)
	}

	return stdout, stderr, err
}

// Login logs the test user in.
func (runner *CommandRunner) Login() error {
	_, stderr, err := runner.Run("login", "--email", runner.config.Email, "--password", runner.config.Password)
	if err != nil {
		return fmt.Errorf("failed to log in: %s", stderr)
	}

	return nil
}

// WaitForCondition waits for a condition to be met with timeout.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	timeoutChan := time.After(timeout)

	for {
		select {
		case <-ticker.C:
			if condition() {
				return
			}
		case <-timeoutChan:
			t.Fatalf("Timeout waiting for condition: %s", message)
		}
	}
}

// AssertJSONOutput verifies command output is valid JSON.
func AssertJSONOutput(t *testing.T, output string) {
	t.Helper()

	if !json.Valid([]byte(strings.TrimSpace(output))) {
		t.Errorf("Output is not JSON: %s", output)
	}
}
