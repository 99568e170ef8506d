package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	return home
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("", false)
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxContextItems, cfg.Chat.MaxContextItems)
	assert.Equal(t, SwitchPolicyLand, cfg.Chat.SwitchPolicy)
	assert.Equal(t, NumberingProcessing, cfg.Chat.CitationNumbering)
	assert.Equal(t, DriverBolt, cfg.Storage.Driver)
	assert.Equal(t, defaultModel, cfg.Model.Name)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.HasCredential())
	assert.Equal(t, filepath.Join(home, ".kbchat", "state.db"), cfg.StatePath())
}

func TestLoad_FileAndEnv(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "kbchat.json")
	body := `{
		"model": {"name": "gemini-2.0-flash", "apiKey": "file-key"},
		"chat": {"maxContextItems": 12, "switchPolicy": "abort", "streamTimeout": "90s"},
		"storage": {"driver": "libsql"},
		"data": {"directory": "` + filepath.ToSlash(filepath.Join(home, "data")) + `"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	t.Setenv("KBCHAT_LOCALE", "es")

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.0-flash", cfg.Model.Name)
	assert.Equal(t, "file-key", cfg.Model.APIKey)
	assert.Equal(t, 12, cfg.Chat.MaxContextItems)
	assert.Equal(t, SwitchPolicyAbort, cfg.Chat.SwitchPolicy)
	assert.Equal(t, 90*time.Second, cfg.Chat.StreamTimeout)
	assert.Equal(t, "es", cfg.Locale)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, filepath.Join(home, "data", "chat.db"), cfg.StatePath())
	assert.Equal(t, path, cfg.ConfigFileUsed())
}

func TestLoad_APIKeyFromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := Load("", false)
	require.NoError(t, err)
	assert.True(t, cfg.HasCredential())
	assert.Equal(t, "env-key", cfg.Model.APIKey)
}

func TestLoad_RejectsOutOfRangeLimit(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"chat": {"maxContextItems": 101}}`), 0644))

	_, err := Load(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxContextItems")
}

func TestWriteTOML_RedactsKey(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "secret-value")

	cfg, err := Load("", false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteTOML(&buf))
	assert.NotContains(t, buf.String(), "secret-value")
	assert.Contains(t, buf.String(), "max_context_items = 30")
}
