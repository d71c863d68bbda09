package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-settings/pkg/encryption"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	body := fmt.Sprintf(`
default: local
encryption_key: %q
repositories:
  local:
    driver: database
    dialect: sqlite
    dsn: %q
    ensure_table: true
app:
  locale: en
override:
  rules:
    - app.locale: ui.locale
log:
  level: error
`, key, filepath.Join(dir, "settings.db"))
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestSetGetHasForget(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, "--config", cfg, "set", "ui.theme", "dark", "--context", "tenant=acme")
	require.NoError(t, err)
	require.Equal(t, "ok", out)

	out, err = run(t, "--config", cfg, "get", "ui.theme", "--context", "tenant=acme")
	require.NoError(t, err)
	require.Equal(t, "dark", out)

	out, err = run(t, "--config", cfg, "get", "ui.theme", "--default", "light")
	require.NoError(t, err)
	require.Equal(t, "light", out, "unscoped value is separate")

	out, err = run(t, "--config", cfg, "has", "ui.theme", "--context", "tenant=acme")
	require.NoError(t, err)
	require.Equal(t, "true", out)

	_, err = run(t, "--config", cfg, "forget", "ui.theme", "--context", "tenant=acme")
	require.NoError(t, err)

	out, err = run(t, "--config", cfg, "has", "ui.theme", "--context", "tenant=acme")
	require.NoError(t, err)
	require.Equal(t, "false", out)
}

func TestSetJSONAndStructuredOutput(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := run(t, "--config", cfg, "set", "mail.retries", `{"count":3,"hosts":["a","b"]}`, "--json")
	require.NoError(t, err)

	out, err := run(t, "--config", cfg, "get", "mail.retries")
	require.NoError(t, err)
	require.JSONEq(t, `{"count":3,"hosts":["a","b"]}`, out)

	out, err = run(t, "--config", cfg, "-o", "json", "get", "mail.retries")
	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Equal(t, "mail.retries", view["key"])

	out, err = run(t, "--config", cfg, "-o", "yaml", "--context", "user=7", "has", "mail.retries")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	require.Equal(t, false, doc["exists"])
	require.Equal(t, map[string]any{"user": "7"}, doc["context"])

	_, err = run(t, "--config", cfg, "set", "bad", "{", "--json")
	require.Error(t, err)
}

func TestKeygenIsDeterministic(t *testing.T) {
	first, err := run(t, "keygen", "ui.theme", "--context", "tenant=acme", "--context", "user=7")
	require.NoError(t, err)
	second, err := run(t, "keygen", "ui.theme", "--context", "user=7", "--context", "tenant=acme")
	require.NoError(t, err)
	global, err := run(t, "keygen", "ui.theme")
	require.NoError(t, err)

	require.Len(t, first, 32)
	require.Equal(t, first, second)
	require.NotEqual(t, first, global)

	_, err = run(t, "keygen", "ui.theme", "--context", "broken")
	require.Error(t, err)
}

func TestGenkey(t *testing.T) {
	out, err := run(t, "genkey")
	require.NoError(t, err)
	_, err = encryption.FromBase64(out)
	require.NoError(t, err)
}

func TestOverride(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := run(t, "--config", cfg, "set", "ui.locale", "lt")
	require.NoError(t, err)

	out, err := run(t, "--config", cfg, "-o", "json", "override")
	require.NoError(t, err)
	var views []overrideView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	require.Equal(t, "app.locale", views[0].Config)
	require.Equal(t, "ui.locale", views[0].Setting)
	require.True(t, views[0].Applied)
	require.Equal(t, "en", views[0].Previous)
	require.Equal(t, "lt", views[0].Value)

	out, err = run(t, "--config", cfg, "override")
	require.NoError(t, err)
	require.Contains(t, out, "app.locale")
	require.Contains(t, out, "yes")
}

func TestRejectsUnknownOutput(t *testing.T) {
	_, err := run(t, "-o", "xml", "genkey")
	require.Error(t, err)
}
