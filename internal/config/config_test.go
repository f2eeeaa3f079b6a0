package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "https://api.deepseek.com", cfg.Backend.BaseURL)
	require.Equal(t, 45*time.Second, cfg.Backend.Timeout())
	require.Equal(t, 8*time.Second, cfg.Reference.Timeout())
	require.Equal(t, 5, cfg.Reference.MaxSources)
	require.Equal(t, 6, cfg.Links.Desired)
	require.Equal(t, 30, cfg.Batch.MaxJobs)
	require.Equal(t, "file", cfg.Store.Provider)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  port: 9191
backend:
  api_key: sk-test
  model: deepseek-reasoner
store:
  provider: memory
links:
  desired: 4
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
	require.Equal(t, "sk-test", cfg.Backend.APIKey)
	require.Equal(t, "deepseek-reasoner", cfg.Backend.Model)
	require.Equal(t, "memory", cfg.Store.Provider)
	require.Equal(t, 4, cfg.Links.Desired)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Store.Provider = "flatfile"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Store.Provider = "postgres"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Links.Desired = 0
	require.Error(t, cfg.Validate())
}
