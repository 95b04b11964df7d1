// Package config loads, normalizes, and validates configuration for the
// offline sync library.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob
// the library needs: local data directory, remote API endpoint, connectivity
// probing, retry bounds, and log output.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
