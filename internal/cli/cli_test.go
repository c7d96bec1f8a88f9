package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/auth"
	"fintrack/internal/core"
)

const testSecret = "cli-test-secret-0123456789"

// setupEnv points the CLI at an in-memory store and a local rate source.
func setupEnv(t *testing.T) {
	t.Helper()
	rates := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"base":  "USD",
			"rates": map[string]float64{"USD": 1, "INR": 80, "EUR": 0.9},
		})
	}))
	t.Cleanup(rates.Close)

	t.Setenv("DATA_BACKEND", "memory")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("RATES_URL", rates.URL)
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("AMQP_URL", "")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "token", "--account", "u1", "--ttl", "1h")
	require.NoError(t, err)

	m, err := auth.NewManager(testSecret)
	require.NoError(t, err)
	account, err := m.Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u1", account)
}

func TestTokenCommandRejectsShortSecret(t *testing.T) {
	setupEnv(t)
	t.Setenv("JWT_SECRET", "")

	_, err := runCLI(t, "token", "--account", "u1")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestTokenCommandRequiresAccount(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "token")
	assert.Error(t, err)
}

func TestInvalidConfigurationStopsEveryCommand(t *testing.T) {
	setupEnv(t)
	t.Setenv("DATA_BACKEND", "sheets")
	t.Setenv("SESSION_MAX", "0")

	_, err := runCLI(t, "token", "--account", "u1")
	require.ErrorIs(t, err, core.ErrConfiguration)
	assert.Contains(t, err.Error(), "invalid data backend")
	assert.Contains(t, err.Error(), "invalid session max")
}

func TestEnvFile(t *testing.T) {
	setupEnv(t)
	// Registered so the value godotenv sets is restored after the test.
	t.Setenv("JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("JWT_SECRET"))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET="+testSecret+"\n"), 0o600))

	out, err := runCLI(t, "--env-file", path, "token", "--account", "u2")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))

	_, err = runCLI(t, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "token", "--account", "u2")
	assert.Error(t, err)
}

func TestSummaryCommand(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "summary", "--account", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "(USD)")
	assert.Contains(t, out, "Income")
	assert.Contains(t, out, "$0.00")
	assert.NotContains(t, out, "placeholder")

	out, err = runCLI(t, "summary", "--account", "u1", "--month", "all", "--year", "all", "--currency", "inr")
	require.NoError(t, err)
	assert.Contains(t, out, "All Time (INR)")
	assert.Contains(t, out, "₹0.00")
}

func TestSummaryCommandValidatesFlags(t *testing.T) {
	setupEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad month", []string{"--month", "13"}},
		{"month not a number", []string{"--month", "march"}},
		{"bad currency", []string{"--currency", "XYZ"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, append([]string{"summary", "--account", "u1"}, tt.args...)...)
			assert.True(t, core.IsValidationError(err), "got %v", err)
		})
	}
}

func TestRecurringRunCommand(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "recurring", "run", "--account", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Posted 0 recurring transaction(s)")
}

func TestResetCommand(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "reset", "--account", "u1")
	assert.Error(t, err, "reset must be confirmed")

	out, err := runCLI(t, "reset", "--account", "u1", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Account u1 reset")
}

func TestServeRequiresSecret(t *testing.T) {
	setupEnv(t)
	t.Setenv("JWT_SECRET", "")

	_, err := runCLI(t, "serve")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}
