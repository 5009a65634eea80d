package testutil

import (
	"bytes"
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TheMichaelB/booktu/internal/config"
	"github.com/TheMichaelB/booktu/internal/events"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// TestContext returns a context that expires after ten seconds.
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// TestConfig returns a configuration pointing at baseURL with its data
// directory under a temporary directory.
func TestConfig(t *testing.T, baseURL, backend string) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.API.Timeout = 5 * time.Second
	cfg.API.MaxRetries = 0
	cfg.API.RetryDelay = 10 * time.Millisecond
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Storage.Backend = backend
	cfg.Connectivity.ProbeURL = baseURL
	cfg.Connectivity.ProbeInterval = 10 * time.Millisecond
	cfg.Connectivity.ProbeTimeout = time.Second
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"
	return cfg
}

// SwitchProbe is a connectivity probe whose answer tests flip at will.
type SwitchProbe struct {
	online atomic.Bool
}

// NewSwitchProbe creates a probe reporting online.
func NewSwitchProbe(online bool) *SwitchProbe {
	p := &SwitchProbe{}
	p.online.Store(online)
	return p
}

// Set changes the reported reachability.
func (p *SwitchProbe) Set(online bool) {
	p.online.Store(online)
}

// Reachable returns the current setting.
func (p *SwitchProbe) Reachable(context.Context) bool {
	return p.online.Load()
}
