package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "configs", cfg.Mongo.Database)
	assert.Equal(t, "en", cfg.Message.DefaultLanguage)
	assert.Equal(t, []string{"en"}, cfg.Message.SupportedLanguages)
	assert.Equal(t, 4, cfg.Reload.MaxConcurrency)
	assert.False(t, cfg.Broadcast.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "mongoconfigs.yaml", `
log:
  level: debug
  encoding: console
mongo:
  uri: mongodb://db:27017
  database: shop
message:
  default_language: pl
  supported_languages: [pl, en]
  collections: [shop, gui]
  cache:
    ttl: 1h
changefeed:
  max_reconnect_attempts: 7
reload:
  schedule: "0 */15 * * * *"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Encoding)
	assert.Equal(t, "mongodb://db:27017", cfg.Mongo.URI)
	assert.Equal(t, "shop", cfg.Mongo.Database)
	assert.Equal(t, 10*time.Second, cfg.Mongo.ConnectTimeout)
	assert.Equal(t, "pl", cfg.Message.DefaultLanguage)
	assert.Equal(t, []string{"pl", "en"}, cfg.Message.SupportedLanguages)
	assert.Equal(t, []string{"shop", "gui"}, cfg.Message.Collections)
	assert.Equal(t, time.Hour, cfg.Message.Cache.TTL)
	assert.Equal(t, "messages", cfg.Message.Cache.Name)
	assert.Equal(t, 7, cfg.ChangeFeed.MaxReconnectAttempts)
	assert.Equal(t, "0 */15 * * * *", cfg.Reload.Schedule)
	assert.Equal(t, 4, cfg.Reload.MaxConcurrency)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "mongoconfigs.yaml", `
message:
  default_language: pl
reload:
  max_concurrency: 2
`)
	t.Setenv("MONGOCONFIGS_MESSAGE_DEFAULT_LANGUAGE", "de")
	t.Setenv("MONGOCONFIGS_RELOAD_MAX_CONCURRENCY", "9")
	t.Setenv("MONGOCONFIGS_BROADCAST_ENABLED", "true")
	t.Setenv("MONGOCONFIGS_BROADCAST_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "de", cfg.Message.DefaultLanguage)
	assert.Equal(t, 9, cfg.Reload.MaxConcurrency)
	assert.True(t, cfg.Broadcast.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broadcast.Brokers)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeFile(t, "bad.yaml", "reload:\n  max_concurrency: -1\n")
	_, err = Load(path)
	assert.Error(t, err)

	path = writeFile(t, "level.yaml", "log:\n  level: loud\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Mongo = nil
	assert.Error(t, cfg.Validate())
	cfg.MergeDefaults()
	assert.NoError(t, cfg.Validate())
}
