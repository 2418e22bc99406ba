// Package config provides configuration loading and validation for the
// realtime coaching media service. It handles YAML-based configuration with
// per-section struct validation and environment variable expansion for
// secrets.
package config
