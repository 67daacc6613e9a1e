package configutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Inner struct {
		Flag   bool  `json:"flag"`
		Toggle *bool `json:"toggle"`
	} `json:"inner"`
}

func writeFile(t testing.TB, path, content string) {
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.json5"), `{
		// comments are allowed
		name: "base",
		count: 1,
	}`)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{ count: 5, inner: { flag: true } }`)

	out, err := ReadConfig[sample](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "base", out.Name)
	require.Equal(t, 5, out.Count)
	require.True(t, out.Inner.Flag)
}

func TestReadConfigLocalTurnsFlagOff(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.json5"), `{ inner: { flag: true, toggle: true } }`)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{ inner: { toggle: false } }`)

	out, err := ReadConfig[sample](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.True(t, out.Inner.Flag)
	require.NotNil(t, out.Inner.Toggle)
	require.False(t, *out.Inner.Toggle)
}

func TestLoadLocalOverridesBooleans(t *testing.T) {
	t.Setenv(EnvDatabaseUrl, "")
	t.Setenv(EnvHeadersApiKey, "")
	t.Setenv(EnvSmtpPassword, "")

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.json5"), `{
		fetch: { anti_bot_check: true, use_browser_headers: true },
		debug: true,
	}`)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{
		fetch: { anti_bot_check: false, use_browser_headers: false },
		debug: false,
	}`)

	config, err := Load(filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.False(t, config.DebugEnabled())
	require.False(t, config.UseBrowserHeaders())
	require.False(t, config.FetchOptions(nil).AntiBotCheck)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[sample](filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadRecursively(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	writeFile(t, filepath.Join(dir, "found.json5"), `{ name: "parent" }`)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { os.Chdir(wd) })

	out, path, err := ReadRecursively[sample]("found.json5")
	require.NoError(t, err)
	require.Equal(t, "parent", out.Name)
	require.Equal(t, "found.json5", filepath.Base(path))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvDatabaseUrl, "")
	t.Setenv(EnvHeadersApiKey, "")
	t.Setenv(EnvSmtpPassword, "")

	path := filepath.Join(t.TempDir(), "config.json5")
	writeFile(t, path, `{ fetch: { retry_limit: 3, use_browser_headers: false }, debug: true }`)

	config, err := Load(path)
	require.NoError(t, err)
	require.True(t, config.DebugEnabled())
	require.Equal(t, "pricetracker.db", config.Database.Url)
	require.Equal(t, 3, config.Fetch.RetryLimit)
	require.False(t, config.UseBrowserHeaders())
	require.False(t, config.FetchOptions(nil).AntiBotCheck)
	require.Equal(t, 48*time.Hour, config.DefaultInterval())

	opts := config.FetchOptions(nil)
	require.Equal(t, 10*time.Second, opts.ConnectTimeout)
	require.Equal(t, 30*time.Second, opts.ReadTimeout)

	trackerOpts := config.TrackerOptions()
	require.Equal(t, 3*time.Second, trackerOpts.MinDelay)
	require.Equal(t, 10*time.Second, trackerOpts.MaxDelay)

	require.Equal(t, 30*time.Second, config.SmtpOptions().Timeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvDatabaseUrl, "libsql://tracker.example.com")
	t.Setenv(EnvHeadersApiKey, "key-from-env")
	t.Setenv(EnvSmtpPassword, "hunter2")

	path := filepath.Join(t.TempDir(), "config.json5")
	writeFile(t, path, `{ database: { url: "other.db" }, headers: { api_key: "file-key" } }`)

	config, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "libsql://tracker.example.com", config.Database.Url)
	require.Equal(t, "key-from-env", config.Headers.ApiKey)
	require.Equal(t, "hunter2", config.Smtp.Password)
	require.True(t, *config.Fetch.UseBrowserHeaders)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(EnvDatabaseUrl, "")
	config, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	require.NoError(t, err)
	require.Equal(t, 5, config.Fetch.RetryLimit)
}
