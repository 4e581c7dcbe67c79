package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8085, cfg.Server.Port)
	assert.Equal(t, "disabled", cfg.Gateway.Provider)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 0.85, cfg.Router.AutoPersist)
	assert.Equal(t, 0.4, cfg.Router.Review)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadYAMLFile(t *testing.T) {
	content := []byte(`
server:
  port: 9000
gateway:
  provider: anthropic
  api_key: test-key
router:
  auto_persist: 0.9
  review: 0.5
store:
  dry_run: true
`)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, content, 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "anthropic", cfg.Gateway.Provider)
	assert.Equal(t, "test-key", cfg.Gateway.APIKey)
	assert.Equal(t, 0.9, cfg.Router.AutoPersist)
	assert.Equal(t, 0.5, cfg.Router.Review)
	assert.True(t, cfg.Store.DryRun)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	content := []byte("gateway:\n  provider: anthropic\n  api_key: from-file\n")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, content, 0600))

	t.Setenv("EVENTD_GATEWAY_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Gateway.APIKey)
}

func TestLoadEnvSectionFieldMapping(t *testing.T) {
	t.Setenv("EVENTD_SERVER_PORT", "9001")
	t.Setenv("EVENTD_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsWorldReadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "insecure config file permissions")
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8085, cfg.Server.Port)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("EVENTD_GATEWAY_PROVIDER", "bedrock")

	_, err := Load("")
	assert.ErrorContains(t, err, "invalid gateway provider")
}
