package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for local state.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	DatabaseName string `toml:"database_name"`
}

// Remote contains configuration for the backing REST API.
type Remote struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// Connectivity contains configuration for online/offline detection.
type Connectivity struct {
	ProbeURL           string `toml:"probe_url"`
	ProbeInterval      int    `toml:"probe_interval"`
	ProbeTimeout       int    `toml:"probe_timeout"`
	WebsocketURL       string `toml:"websocket_url"`
	ReconnectBaseDelay int    `toml:"reconnect_base_delay"`
	ReconnectMaxDelay  int    `toml:"reconnect_max_delay"`
}

// Sync contains configuration for mutation replay.
type Sync struct {
	DefaultMaxAttempts int `toml:"default_max_attempts"`
	DefaultTTLSeconds  int `toml:"default_ttl_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the sync library.
//
// Configuration sections by subsystem:
//   - Paths: local data directory and database file name
//   - Remote: base URL and timeouts for the backing REST API
//   - Connectivity: probe/websocket settings for online detection
//   - Sync: retry bounds and cache TTL defaults
//   - Logging: log format and level
type Config struct {
	Paths        Paths        `toml:"paths"`
	Remote       Remote       `toml:"remote"`
	Connectivity Connectivity `toml:"connectivity"`
	Sync         Sync         `toml:"sync"`
	Logging      Logging      `toml:"logging"`
}

// Load locates, parses, and validates a configuration file. When the file does
// not exist the returned config carries defaults only.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/outpost/config.toml")
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// DatabasePath returns the absolute path of the SQLite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, c.Paths.DatabaseName)
}

// EnsureDirectories creates the directories the library writes to.
func (c *Config) EnsureDirectories() error {
	if c.Paths.DataDir == "" {
		return errors.New("data_dir is not configured")
	}
	if err := os.MkdirAll(c.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	dataDir, err := expandPath(c.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("expand data_dir: %w", err)
	}
	c.Paths.DataDir = dataDir

	c.Paths.DatabaseName = strings.TrimSpace(c.Paths.DatabaseName)
	if c.Paths.DatabaseName == "" {
		c.Paths.DatabaseName = defaultDatabaseName
	}

	c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(c.Remote.BaseURL), "/")
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("OUTPOST_REMOTE_URL")), "/")
	}
	c.Connectivity.ProbeURL = strings.TrimSpace(c.Connectivity.ProbeURL)
	c.Connectivity.WebsocketURL = strings.TrimSpace(c.Connectivity.WebsocketURL)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", trimmed, err)
	}
	return abs, nil
}
