package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"outpost/config"
)

func TestLoadDefaultsUseEnvRemoteURLAndExpandPaths(t *testing.T) {
	t.Setenv("OUTPOST_REMOTE_URL", "https://api.example.com/v1/")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "outpost")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Remote.BaseURL != "https://api.example.com/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Remote.BaseURL)
	}
	if cfg.Sync.DefaultMaxAttempts != 3 {
		t.Fatalf("unexpected default max attempts: %d", cfg.Sync.DefaultMaxAttempts)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format: %q", cfg.Logging.Format)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "cache.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
}

func TestLoadParsesFileAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := strings.Join([]string{
		"[paths]",
		`data_dir = "` + dir + `"`,
		`database_name = "local.db"`,
		"[remote]",
		`base_url = "https://community.example.net/api/"`,
		"request_timeout = 5",
		"[sync]",
		"default_max_attempts = 5",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected file at %q to be used, got %q exists=%v", path, resolved, exists)
	}
	if cfg.Remote.BaseURL != "https://community.example.net/api" {
		t.Fatalf("unexpected base url: %q", cfg.Remote.BaseURL)
	}
	if cfg.Paths.DatabaseName != "local.db" {
		t.Fatalf("unexpected database name: %q", cfg.Paths.DatabaseName)
	}
	if cfg.Sync.DefaultMaxAttempts != 5 {
		t.Fatalf("unexpected max attempts: %d", cfg.Sync.DefaultMaxAttempts)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing base url", func(c *config.Config) { c.Remote.BaseURL = "" }},
		{"relative base url", func(c *config.Config) { c.Remote.BaseURL = "example.com/api" }},
		{"zero timeout", func(c *config.Config) { c.Remote.RequestTimeout = 0 }},
		{"zero attempts", func(c *config.Config) { c.Sync.DefaultMaxAttempts = 0 }},
		{"negative ttl", func(c *config.Config) { c.Sync.DefaultTTLSeconds = -1 }},
		{"bad format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"bad level", func(c *config.Config) { c.Logging.Level = "trace" }},
		{"db name with path", func(c *config.Config) { c.Paths.DatabaseName = "nested/db.sqlite" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.DataDir = t.TempDir()
			cfg.Remote.BaseURL = "https://api.example.com"
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestWriteSample(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[remote]") {
		t.Fatal("sample config missing [remote] section")
	}
}
