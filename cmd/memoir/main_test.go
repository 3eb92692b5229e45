package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-memoir/pkg/config"
	"github.com/vango-go/vai-memoir/pkg/live/credentials"
	"github.com/vango-go/vai-memoir/pkg/memory/memstore"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "memoir dev"))
}

func TestMemories_AddListShowSearch(t *testing.T) {
	t.Setenv("MEMOIR_SESSION_USER_ID", "u1")
	t.Setenv("MEMOIR_STORE_DRIVER", "sqlite")
	t.Setenv("MEMOIR_STORE_SQLITE_PATH", filepath.Join(t.TempDir(), "memoir.db"))

	id, err := run(t, "memories", "add",
		"--title", "Trip to Lisbon",
		"--content", "Ate pastéis de nata by the river",
		"--tags", "travel,food",
		"--date", "June 2019",
		"--location", "Lisbon",
	)
	require.NoError(t, err)
	id = strings.TrimSpace(id)
	require.NotEmpty(t, id)

	_, err = run(t, "memories", "add", "--title", "Piano", "--content", "First recital")
	require.NoError(t, err)

	out, err := run(t, "memories", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Trip to Lisbon")
	assert.Contains(t, out, "Piano")
	assert.Contains(t, out, "2019-06-01")

	out, err = run(t, "memories", "search", "nata")
	require.NoError(t, err)
	assert.Contains(t, out, "Trip to Lisbon")
	assert.NotContains(t, out, "Piano")

	out, err = run(t, "memories", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Location: Lisbon")
	assert.Contains(t, out, "Tags:     travel, food")

	_, err = run(t, "memories", "show", "missing")
	assert.ErrorContains(t, err, `no memory with id "missing"`)
}

func TestMemories_RequiresUser(t *testing.T) {
	t.Setenv("MEMOIR_STORE_DRIVER", "memory")
	_, err := run(t, "memories", "list")
	assert.ErrorContains(t, err, "session.user_id is required")
}

func TestMemoriesAdd_RejectsUnreadableDate(t *testing.T) {
	t.Setenv("MEMOIR_SESSION_USER_ID", "u1")
	t.Setenv("MEMOIR_STORE_DRIVER", "memory")
	_, err := run(t, "memories", "add", "--title", "x", "--content", "y", "--date", "someday")
	assert.ErrorContains(t, err, "cannot read a date")
}

func TestServe_RequiresSessionSettings(t *testing.T) {
	t.Setenv("MEMOIR_STORE_DRIVER", "memory")
	_, err := run(t, "serve")
	assert.ErrorContains(t, err, "session.user_id is required")
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MEMOIR_LOG_FORMAT=json\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("MEMOIR_LOG_FORMAT") })

	a := &app{envFile: path}
	require.NoError(t, a.load(newRootCmd()))
	assert.Equal(t, "json", a.cfg.Log.Format)
}

func TestNewIssuer(t *testing.T) {
	iss, err := newIssuer(config.CredentialsConfig{Mode: config.CredentialsBackend, Endpoint: "https://issuer.example/signed-url"})
	require.NoError(t, err)
	assert.IsType(t, &credentials.BackendIssuer{}, iss)

	iss, err = newIssuer(config.CredentialsConfig{Mode: config.CredentialsUpstream, BaseURL: "https://api.example", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &credentials.UpstreamIssuer{}, iss)

	_, err = newIssuer(config.CredentialsConfig{Mode: config.CredentialsBackend})
	assert.Error(t, err)
}

func TestOpenStore_Memory(t *testing.T) {
	s, closeStore, err := openStore(context.Background(), config.StoreConfig{Driver: config.StoreMemory}, slog.Default())
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &memstore.Store{}, s)
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "tool", "save_memory")
	assert.Contains(t, buf.String(), `"tool":"save_memory"`)
}
