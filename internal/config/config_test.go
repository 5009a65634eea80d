package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/booktu/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.NotEmpty(t, cfg.API.BaseURL)
	assert.Positive(t, cfg.API.Timeout)
	assert.NotEmpty(t, cfg.Storage.DataDir)
	assert.Equal(t, time.Hour, cfg.Catalog.TTL)
	assert.Equal(t, 3, cfg.Sync.HistoryCapacity)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *config.Config) {},
			wantErr: "",
		},
		{
			name: "missing base URL",
			modify: func(c *config.Config) {
				c.API.BaseURL = ""
			},
			wantErr: "api.base_url is required",
		},
		{
			name: "invalid log level",
			modify: func(c *config.Config) {
				c.Log.Level = "invalid"
			},
			wantErr: "invalid log level",
		},
		{
			name: "negative timeout",
			modify: func(c *config.Config) {
				c.API.Timeout = -1
			},
			wantErr: "api.timeout must be positive",
		},
		{
			name: "unknown backend",
			modify: func(c *config.Config) {
				c.Storage.Backend = "redis"
			},
			wantErr: "invalid storage backend",
		},
		{
			name: "zero ttl",
			modify: func(c *config.Config) {
				c.Catalog.TTL = 0
			},
			wantErr: "catalog.ttl must be positive",
		},
		{
			name: "zero history capacity",
			modify: func(c *config.Config) {
				c.Sync.HistoryCapacity = 0
			},
			wantErr: "sync.history_capacity must be positive",
		},
		{
			name: "ttl above one hour",
			modify: func(c *config.Config) {
				c.Catalog.TTL = 2 * time.Hour
			},
			wantErr: "catalog.ttl must not exceed 1h0m0s",
		},
		{
			name: "shorter ttl",
			modify: func(c *config.Config) {
				c.Catalog.TTL = 10 * time.Minute
			},
			wantErr: "",
		},
		{
			name: "history capacity above three",
			modify: func(c *config.Config) {
				c.Sync.HistoryCapacity = 4
			},
			wantErr: "sync.history_capacity must not exceed 3",
		},
		{
			name: "unbounded sync concurrency",
			modify: func(c *config.Config) {
				c.Sync.MaxConcurrent = 0
			},
			wantErr: "",
		},
		{
			name: "negative sync concurrency",
			modify: func(c *config.Config) {
				c.Sync.MaxConcurrent = -2
			},
			wantErr: "sync.max_concurrent must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoaderEnv(t *testing.T) {
	t.Setenv("BOOKTU_API_BASE_URL", "https://test.example.com")
	t.Setenv("BOOKTU_API_TIMEOUT", "45s")
	t.Setenv("BOOKTU_LOG_LEVEL", "DEBUG")
	t.Setenv("BOOKTU_SYNC_MAX_CONCURRENT", "10")
	t.Setenv("BOOKTU_CATALOG_TTL", "2h")

	loader := config.NewLoader(filepath.Join(t.TempDir(), "missing-ok.yaml"))
	_, err := loader.Load()
	require.Error(t, err, "explicit config path must exist")

	cfg, err := config.NewLoader(writeConfig(t, "booktu.yaml", "storage:\n  backend: sqlite\n")).Load()
	require.NoError(t, err)
	assert.Equal(t, "https://test.example.com", cfg.API.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.API.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Sync.MaxConcurrent)
	assert.Equal(t, 2*time.Hour, cfg.Catalog.TTL)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
}

func TestLoaderFile(t *testing.T) {
	configPath := writeConfig(t, "test.json", `{
		"api": {
			"base_url": "https://file.example.com"
		},
		"log": {
			"level": "warn",
			"format": "json"
		}
	}`)

	cfg, err := config.NewLoader(configPath).Load()

	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.API.BaseURL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Sync.MaxConcurrent, "unset keys keep defaults")
}

func TestLoaderRejectsInvalid(t *testing.T) {
	configPath := writeConfig(t, "bad.yaml", "log:\n  format: xml\n")

	_, err := config.NewLoader(configPath).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	require.NoError(t, config.SaveExample(path))

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().API.BaseURL, cfg.API.BaseURL)
}

func TestConfigEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Log.File = filepath.Join(tmpDir, "logs", "app.log")

	err := cfg.EnsureDirectories()
	require.NoError(t, err)

	assert.DirExists(t, cfg.Storage.DataDir)
	assert.DirExists(t, filepath.Dir(cfg.Log.File))
	assert.Equal(t, filepath.Join(cfg.Storage.DataDir, "state"), cfg.StatePath())
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
