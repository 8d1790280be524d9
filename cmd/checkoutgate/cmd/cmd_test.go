package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/checkoutgate/gate"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "checkoutgate.yaml")
	body := `
site:
  url: https://staging.example.com
storage:
  backend: bbolt
  data_dir: ` + filepath.Join(dir, "data") + `
secret:
  value: 0123456789abcdef0123456789abcdef
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func showSettings(t *testing.T, cfg string) settingsView {
	t.Helper()
	out, err := runCmd(t, "", "--config", cfg, "settings", "show")
	require.NoError(t, err)
	var v settingsView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	return v
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestVersion(t *testing.T) {
	out, err := runCmd(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestSettingsLifecycle(t *testing.T) {
	cfg := writeTestConfig(t)

	v := showSettings(t, cfg)
	assert.Empty(t, v.ProtectedHosts)
	assert.False(t, v.PasswordSet)

	_, err := runCmd(t, "hunter2\n", "--config", cfg, "settings", "set",
		"--hosts", "https://Staging.Example.com/,*.dev.example.com", "--password-stdin")
	require.NoError(t, err)

	v = showSettings(t, cfg)
	assert.Equal(t, []string{"staging.example.com", "*.dev.example.com"}, v.ProtectedHosts)
	assert.True(t, v.PasswordSet)
	assert.NotNil(t, v.UpdatedAt)

	out, err := runCmd(t, "", "--config", cfg, "settings", "status", "--host", "shop.dev.example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "protected (checkout requires the password)")

	// New hosts without a password keep the stored password.
	_, err = runCmd(t, "", "--config", cfg, "settings", "set", "--hosts-text", "other.example.com\nstaging.example.com")
	require.NoError(t, err)
	v = showSettings(t, cfg)
	assert.Equal(t, []string{"other.example.com", "staging.example.com"}, v.ProtectedHosts)
	assert.True(t, v.PasswordSet)

	// A password without hosts keeps the stored hosts.
	_, err = runCmd(t, "", "--config", cfg, "settings", "set", "--password", "new-secret")
	require.NoError(t, err)
	v = showSettings(t, cfg)
	assert.Equal(t, []string{"other.example.com", "staging.example.com"}, v.ProtectedHosts)

	out, err = runCmd(t, "", "--config", cfg, "settings", "status", "--host", "www.example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "not protected")
}

func TestSettingsShowNeverPrintsHash(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCmd(t, "", "--config", cfg, "settings", "set", "--hosts", "staging.example.com", "--password", "hunter2")
	require.NoError(t, err)

	out, err := runCmd(t, "", "--config", cfg, "settings", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "argon2id")
	assert.NotContains(t, out, "password_hash")
}

func TestPurge(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCmd(t, "", "--config", cfg, "settings", "set", "--hosts", "staging.example.com", "--password", "hunter2")
	require.NoError(t, err)

	_, err = runCmd(t, "", "--config", cfg, "purge")
	require.Error(t, err)
	assert.True(t, showSettings(t, cfg).PasswordSet, "nothing removed without --yes")

	out, err := runCmd(t, "", "--config", cfg, "purge", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "settings removed")

	v := showSettings(t, cfg)
	assert.False(t, v.PasswordSet)
	assert.Empty(t, v.ProtectedHosts)
}

func TestHashPassword(t *testing.T) {
	out, err := runCmd(t, "hunter2\n", "hash-password")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "$argon2id$v=19$"), out)

	out, err = runCmd(t, "hunter2", "hash-password", "--bcrypt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "$2a$"), out)

	_, err = runCmd(t, "", "hash-password")
	assert.Error(t, err)
}

func TestSettingsRequiresValidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: memory\n"), 0o600))
	_, err := runCmd(t, "", "--config", path, "settings", "show")
	assert.Error(t, err)
}

func TestLoadServerConfigFlagsOverride(t *testing.T) {
	cfg := writeTestConfig(t)
	cmd := newServerCmd(&cfg)
	require.NoError(t, cmd.Flags().Parse([]string{"--listen", ":9443", "--storage", "memory"}))

	loaded, err := loadServerConfig(cmd, cfg, serverFlags{listen: ":9443", backend: "memory"})
	require.NoError(t, err)
	assert.Equal(t, ":9443", loaded.Server.Listen)
	assert.Equal(t, "memory", loaded.Storage.Backend)
	assert.Equal(t, "https://staging.example.com", loaded.Site.URL)
}

func TestDescribeStatus(t *testing.T) {
	assert.Contains(t, describeStatus(gate.StatusProtected), "requires the password")
	assert.Contains(t, describeStatus(gate.StatusMatchedNoPassword), "no password set")
	assert.Contains(t, describeStatus(gate.StatusOpen), "not protected")
}

func TestBanner(t *testing.T) {
	var b bytes.Buffer
	printBanner(&b)
	assert.Contains(t, b.String(), "Version "+Version)
}
