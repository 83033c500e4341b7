package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigManagerRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "huddle")
	cm, err := NewConfigManager(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "client.toml"), cm.Path())

	config, err := cm.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config, "missing file loads defaults")

	config.Email = "ana@example.com"
	config.Token = "secret-token"
	config.TypingIntervalMS = 1500
	require.NoError(t, cm.Save(config))

	info, err := os.Stat(cm.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := cm.Load()
	require.NoError(t, err)
	assert.Equal(t, config, loaded)

	sc := loaded.SessionConfig()
	assert.Equal(t, 1500*time.Millisecond, sc.TypingInterval)
	assert.Equal(t, DefaultRequestTimeout, sc.RequestTimeout)
	assert.Equal(t, "http://localhost:8080", sc.ServerAddr)
}

func TestConfigPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewConfigManager(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(cm.Path(), []byte(`server = "https://chat.example.com"`+"\n"), 0o600))

	config, err := cm.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", config.Server)
	assert.Equal(t, 100, config.HistoryLimit)
	assert.Equal(t, "dracula", config.Theme)
}

func TestConfigInvalidFile(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewConfigManager(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cm.Path(), []byte("server = ["), 0o600))

	_, err = cm.Load()
	assert.Error(t, err)
}

func TestServerAddresses(t *testing.T) {
	u, err := liveURL("localhost:8080", "a b")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws?token=a+b", u)

	u, err = liveURL("https://chat.example.com/", "t")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws?token=t", u)

	base, err := baseURL("http://localhost:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", base)
}
