package testsupport

import (
	"path/filepath"
	"testing"

	"outpost/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with a unique temp directory per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Remote.BaseURL = "https://api.test.invalid"
	cfg.Remote.RequestTimeout = 5
	cfg.Connectivity.ProbeInterval = 1
	cfg.Connectivity.ProbeTimeout = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}

// WithRemoteURL points the test config at a live test server.
func WithRemoteURL(url string) ConfigOption {
	return func(c *config.Config) {
		c.Remote.BaseURL = url
	}
}

// WithMaxAttempts overrides the default retry bound.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(c *config.Config) {
		c.Sync.DefaultMaxAttempts = attempts
	}
}
