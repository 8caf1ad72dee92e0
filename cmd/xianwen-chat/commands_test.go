package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/xianwen/internal/app"
	"github.com/ent0n29/xianwen/internal/client"
	"github.com/ent0n29/xianwen/internal/config"
)

func startBackend(t *testing.T) *httptest.Server {
	t.Helper()
	built, err := app.Build(context.Background(), config.Config{
		MetricsNamespace: "test_xianwen_chat",
		CompletionMode:   "mock",
		HistoryMaxTurns:  20,
		JWTSecret:        "cli-test-secret",
		JWTTTL:           time.Hour,
	}, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(built.API.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = built.Cleanup()
	})
	return ts
}

func runCLI(t *testing.T, profilePath string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{"--config", profilePath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestServerModeFlow(t *testing.T) {
	ts := startBackend(t)
	dir := t.TempDir()
	profilePath := filepath.Join(dir, "client.yaml")

	p := client.DefaultProfile()
	p.ServerURL = ts.URL
	p.StorePath = filepath.Join(dir, "history.db")
	require.NoError(t, client.SaveProfile(profilePath, p))

	_, err := runCLI(t, profilePath, "send", "too", "early")
	require.ErrorContains(t, err, "not logged in")

	out, err := runCLI(t, profilePath, "register", "--email", "cli@example.com", "--password", "pw-123")
	require.NoError(t, err)
	assert.Contains(t, out, "cli@example.com")

	saved, err := client.LoadProfile(profilePath)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.Token)

	out, err = runCLI(t, profilePath, "send", "hello", "there")
	require.NoError(t, err)
	assert.Equal(t, "I heard you: hello there\n", out)

	out, err = runCLI(t, profilePath, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, "I heard you: hello there")

	out, err = runCLI(t, profilePath, "history", "--remote")
	require.NoError(t, err)
	assert.Contains(t, out, "hello there")

	out, err = runCLI(t, profilePath, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Chat history cleared")

	out, err = runCLI(t, profilePath, "history", "--remote")
	require.NoError(t, err)
	assert.Contains(t, out, "(no messages)")
}

func TestDirectModeWithoutKeyMarksFailure(t *testing.T) {
	dir := t.TempDir()
	profilePath := filepath.Join(dir, "client.yaml")
	t.Setenv("XIANWEN_TEST_MISSING_KEY", "")

	p := client.DefaultProfile()
	p.Mode = client.ModeDirect
	p.DirectBaseURL = "http://127.0.0.1:1"
	p.DirectKeyEnv = "XIANWEN_TEST_MISSING_KEY"
	p.StorePath = filepath.Join(dir, "history.db")
	require.NoError(t, client.SaveProfile(profilePath, p))

	_, err := runCLI(t, profilePath, "send", "hi")
	require.ErrorContains(t, err, "not configured")

	out, err := runCLI(t, profilePath, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "[failed] hi")
}
