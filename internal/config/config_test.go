package config

import (
	"os"
	"path/filepath"
	"testing"

	"tripchat/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"transport": {"url": "wss://chat.example.com/ws"},
		"cache": {"path": "/tmp/tripchat.db"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://chat.example.com/ws", cfg.Transport.URL)
	assert.Equal(t, constants.DefaultCorrelationWindowSec, cfg.Chat.CorrelationWindowSec)
	assert.Equal(t, constants.DefaultTypingIdleSec, cfg.Chat.TypingIdleSec)
	assert.Equal(t, constants.DefaultHistoryPageSize, cfg.Chat.HistoryPageSize)
	assert.Equal(t, constants.DefaultReadProximityPx, cfg.Chat.ReadProximityPx)
	assert.Equal(t, constants.DefaultAckTimeoutSec, cfg.Chat.AckTimeoutSec)
	assert.Equal(t, constants.DefaultWriteTimeoutSec, cfg.Transport.WriteTimeoutSec)
	assert.Equal(t, constants.DefaultCacheRetentionDays, cfg.Cache.RetentionDays)
	assert.Equal(t, constants.DefaultMaxImageSizeMB, cfg.Media.MaxSizeMB.Image)
	assert.Equal(t, constants.DefaultImageTypes, cfg.Media.AllowedTypes.Image)
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
}

func TestLoadConfigExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, `{
		"transport": {"url": "wss://chat.example.com/ws"},
		"cache": {"path": "/tmp/tripchat.db", "retentionDays": 7},
		"chat": {"correlationWindowSec": 10, "historyPageSize": 50}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Chat.CorrelationWindowSec)
	assert.Equal(t, 50, cfg.Chat.HistoryPageSize)
	assert.Equal(t, 7, cfg.Cache.RetentionDays)
}

func TestLoadConfigMissingTransportURL(t *testing.T) {
	path := writeConfig(t, `{"cache": {"path": "/tmp/tripchat.db"}}`)

	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrMissingTransportURL)
}

func TestLoadConfigWithoutCachePath(t *testing.T) {
	path := writeConfig(t, `{"transport": {"url": "wss://chat.example.com/ws"}}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Cache.Path, "empty path runs without the local cache")
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoadConfigRejectsTraversalPath(t *testing.T) {
	_, err := LoadConfig("../../etc/passwd")
	require.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TRIPCHAT_TRANSPORT_URL", "wss://override.example.com/ws")
	t.Setenv("TRIPCHAT_CACHE_PATH", "/var/lib/tripchat/history.db")
	t.Setenv("TRIPCHAT_LOG_LEVEL", "debug")
	t.Setenv("TRIPCHAT_SERVER_PORT", "9090")

	path := writeConfig(t, `{
		"transport": {"url": "wss://chat.example.com/ws"},
		"cache": {"path": "/tmp/tripchat.db"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://override.example.com/ws", cfg.Transport.URL)
	assert.Equal(t, "/var/lib/tripchat/history.db", cfg.Cache.Path)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestEnvironmentOverrideIgnoresInvalidPort(t *testing.T) {
	t.Setenv("TRIPCHAT_SERVER_PORT", "not-a-port")

	path := writeConfig(t, `{
		"transport": {"url": "wss://chat.example.com/ws"},
		"cache": {"path": "/tmp/tripchat.db"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
}
