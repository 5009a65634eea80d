package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// API configuration
	API APIConfig `mapstructure:"api" json:"api"`

	// Authentication configuration
	Auth AuthConfig `mapstructure:"auth" json:"auth"`

	// Device-local storage
	Storage StorageConfig `mapstructure:"storage" json:"storage"`

	// Reference data cache
	Catalog CatalogConfig `mapstructure:"catalog" json:"catalog"`

	// Offline queue reconciliation
	Sync SyncConfig `mapstructure:"sync" json:"sync"`

	// Reachability monitoring
	Connectivity ConnectivityConfig `mapstructure:"connectivity" json:"connectivity"`

	// Logging
	Log LogConfig `mapstructure:"log" json:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url" json:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	UserAgent  string        `mapstructure:"user_agent" json:"user_agent"`
}

// AuthConfig for session sign in.
type AuthConfig struct {
	Login    string `mapstructure:"login" json:"login,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty"`
}

// StorageConfig for device-local persisted collections.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir" json:"data_dir"` // Base directory for all data
	Backend string `mapstructure:"backend" json:"backend"`   // json or sqlite
}

// Upper bounds for tunables that may only be tightened.
const (
	MaxCatalogTTL      = time.Hour
	MaxHistoryCapacity = 3
)

// CatalogConfig for the reference snapshot.
type CatalogConfig struct {
	TTL time.Duration `mapstructure:"ttl" json:"ttl"` // At most MaxCatalogTTL
}

// SyncConfig for reconciliation behavior.
type SyncConfig struct {
	MaxConcurrent   int  `mapstructure:"max_concurrent" json:"max_concurrent"`     // In-flight sync requests, 0 = unbounded
	HistoryCapacity int  `mapstructure:"history_capacity" json:"history_capacity"` // Dashboard recency cache size, 1 to MaxHistoryCapacity
	AutoSync        bool `mapstructure:"auto_sync" json:"auto_sync"`               // Sync on reconnect and cold start
}

// ConnectivityConfig for the reachability probe.
type ConnectivityConfig struct {
	ProbeURL      string        `mapstructure:"probe_url" json:"probe_url"` // Empty = API base URL
	ProbeInterval time.Duration `mapstructure:"probe_interval" json:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" json:"probe_timeout"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // text, json
	File   string `mapstructure:"file" json:"file"`     // Log file path (empty = stderr)
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    "http://localhost:3333",
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			RetryDelay: 500 * time.Millisecond,
			UserAgent:  "booktu-cli/1.0",
		},
		Storage: StorageConfig{
			DataDir: ".booktu",
			Backend: "json",
		},
		Catalog: CatalogConfig{
			TTL: time.Hour,
		},
		Sync: SyncConfig{
			MaxConcurrent:   8,
			HistoryCapacity: 3,
			AutoSync:        true,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 5 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must not be negative")
	}

	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	validBackends := map[string]bool{"json": true, "sqlite": true}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	if c.Catalog.TTL <= 0 {
		return errors.New("catalog.ttl must be positive")
	}

	if c.Catalog.TTL > MaxCatalogTTL {
		return fmt.Errorf("catalog.ttl must not exceed %s", MaxCatalogTTL)
	}

	if c.Sync.MaxConcurrent < 0 {
		return errors.New("sync.max_concurrent must not be negative")
	}

	if c.Sync.HistoryCapacity <= 0 {
		return errors.New("sync.history_capacity must be positive")
	}

	if c.Sync.HistoryCapacity > MaxHistoryCapacity {
		return fmt.Errorf("sync.history_capacity must not exceed %d", MaxHistoryCapacity)
	}

	if c.Connectivity.ProbeInterval <= 0 {
		return errors.New("connectivity.probe_interval must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// StatePath returns the location of the local store for the configured backend.
func (c *Config) StatePath() string {
	return c.StatePathFor(c.Storage.Backend)
}

// StatePathFor returns where backend keeps its state.
func (c *Config) StatePathFor(backend string) string {
	if backend == "sqlite" {
		return filepath.Join(c.Storage.DataDir, "booktu.db")
	}
	return filepath.Join(c.Storage.DataDir, "state")
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Storage.DataDir}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
