package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateConnectivity(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.ContainsRune(c.Paths.DatabaseName, '/') {
		return errors.New("paths.database_name must be a bare file name")
	}
	return nil
}

func (c *Config) validateRemote() error {
	if c.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required")
	}
	parsed, err := url.Parse(c.Remote.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("remote.base_url %q is not an absolute URL", c.Remote.BaseURL)
	}
	if c.Remote.RequestTimeout <= 0 {
		return errors.New("remote.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateConnectivity() error {
	if c.Connectivity.ProbeInterval <= 0 {
		return errors.New("connectivity.probe_interval must be positive")
	}
	if c.Connectivity.ProbeTimeout <= 0 {
		return errors.New("connectivity.probe_timeout must be positive")
	}
	if c.Connectivity.ReconnectBaseDelay <= 0 || c.Connectivity.ReconnectMaxDelay < c.Connectivity.ReconnectBaseDelay {
		return errors.New("connectivity reconnect delays must be positive and max >= base")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.DefaultMaxAttempts < 1 {
		return errors.New("sync.default_max_attempts must be at least 1")
	}
	if c.Sync.DefaultTTLSeconds < 0 {
		return errors.New("sync.default_ttl_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
