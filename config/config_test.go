package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tubewatch/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tubewatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.toml")} {
		cfg, err := config.LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "/data/bot.db"

[server]
port = 8080
api_key = "secret"

[poll]
schedule = "*/15 * * * *"
max_failures = 5

[feeds]
timeout = "30s"

[log]
format = "json"
`)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/bot.db", cfg.Database.Path)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, "*/15 * * * *", cfg.Poll.Schedule)
	assert.Equal(t, 5, cfg.Poll.MaxFailures)
	assert.Equal(t, 30*time.Second, cfg.Feeds.Timeout.Duration)
	assert.Equal(t, "json", cfg.Log.Format)

	// Unset values keep their defaults
	assert.Equal(t, 50, cfg.Poll.BatchSize)
	assert.Equal(t, "https://www.youtube.com/feeds/videos.xml", cfg.Feeds.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout.Duration)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", `[poll`},
		{"duration", "[feeds]\ntimeout = \"soon\""},
		{"batch size", "[poll]\nbatch_size = 0"},
		{"max failures", "[poll]\nmax_failures = -1"},
		{"log format", "[log]\nformat = \"xml\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}
